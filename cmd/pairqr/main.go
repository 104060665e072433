// Command pairqr creates a pairing against a running relay and renders
// the phone-side connect payload as a QR code PNG. It is the manual
// counterpart of what a web integration does in the browser.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"github.com/walletabi/relaygo/internal/pairing"
	"github.com/walletabi/relaygo/internal/relaycrypto"
	"github.com/walletabi/relaygo/internal/transport"
)

func main() {
	apiURL := flag.String("api", "http://127.0.0.1:8787", "relay API base URL")
	origin := flag.String("origin", "", "https:// origin requesting the pairing (required)")
	network := flag.String("network", "mainnet", "network tag carried in the pairing record")
	ttlMs := flag.Int64("ttl-ms", 120_000, "pairing lifetime in milliseconds")
	baseLink := flag.String("base-link", "https://wallet.example/link", "deep link the QR payload is appended to")
	out := flag.String("out", "pairing.png", "output PNG path")
	size := flag.Int("size", 384, "QR image size in pixels")
	flag.Parse()

	if *origin == "" {
		fmt.Fprintln(os.Stderr, "pairqr: -origin is required")
		flag.Usage()
		os.Exit(2)
	}

	result, err := createPairing(*apiURL, pairing.CreateInput{
		Origin:    *origin,
		RequestID: uuid.New().String(),
		Network:   *network,
		TTLMs:     *ttlMs,
	})
	if err != nil {
		log.Fatalf("Failed to create pairing: %v", err)
	}

	// The channel key never reaches the relay. It is minted here and
	// travels to the phone only inside the QR payload.
	channelKey, err := relaycrypto.NewChannelKey()
	if err != nil {
		log.Fatalf("Failed to generate channel key: %v", err)
	}

	payload := &transport.Pairing{
		V:             transport.Version,
		PairingID:     result.PairingID,
		RelayWsURL:    result.RelayWsURL,
		ExpiresAtMs:   result.ExpiresAtMs,
		PhoneToken:    result.PhoneToken,
		ChannelKeyB64: transport.EncodeChannelKeyB64(channelKey),
		Alg:           transport.AlgXChaCha20Poly1305HkdfSha256,
	}

	encoded, err := transport.EncodePairing(payload)
	if err != nil {
		log.Fatalf("Failed to encode pairing payload: %v", err)
	}
	deepLink := transport.BuildPairingDeepLink(*baseLink, encoded)

	png, err := qrcode.Encode(deepLink, qrcode.Medium, *size)
	if err != nil {
		log.Fatalf("Failed to render QR code: %v", err)
	}
	if err := os.WriteFile(*out, png, 0o644); err != nil {
		log.Fatalf("Failed to write %s: %v", *out, err)
	}

	expiresIn := time.Until(time.UnixMilli(result.ExpiresAtMs)).Round(time.Second)
	fmt.Printf("pairing_id:  %s\n", result.PairingID)
	fmt.Printf("web_token:   %s\n", result.WebToken)
	fmt.Printf("channel_key: %s\n", transport.EncodeChannelKeyB64(channelKey))
	fmt.Printf("expires_in:  %s\n", expiresIn)
	fmt.Printf("qr_png:      %s\n", *out)
}

func createPairing(apiURL string, in pairing.CreateInput) (*pairing.CreateResult, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	resp, err := http.Post(apiURL+"/v1/pairings", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("relay returned %d: %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("relay returned %d", resp.StatusCode)
	}

	var result pairing.CreateResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}
