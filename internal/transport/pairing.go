package transport

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	// ChannelKeyBytes is the length of the shared secret carried in the
	// pairing payload.
	ChannelKeyBytes = 32

	// NonceBytes is the XChaCha20-Poly1305 nonce length.
	NonceBytes = 24

	// AlgXChaCha20Poly1305HkdfSha256 is the only supported cipher suite tag.
	AlgXChaCha20Poly1305HkdfSha256 = "xchacha20poly1305_hkdf_sha256"
)

// Pairing is the connect payload scanned by the phone: everything it needs
// to reach the relay and decrypt the pending request.
type Pairing struct {
	V             int    `json:"v"`
	PairingID     string `json:"pairing_id"`
	RelayWsURL    string `json:"relay_ws_url"`
	ExpiresAtMs   int64  `json:"expires_at_ms"`
	PhoneToken    string `json:"phone_token"`
	ChannelKeyB64 string `json:"channel_key_b64"`
	Alg           string `json:"alg"`
}

// Validate checks the structural invariants of a pairing payload.
func (p *Pairing) Validate() error {
	if p.V != Version {
		return fmt.Errorf("transport: pairing.v must be %d", Version)
	}
	if strings.TrimSpace(p.PairingID) == "" {
		return errors.New("transport: pairing_id must not be empty")
	}
	if err := ValidateWsURL(p.RelayWsURL); err != nil {
		return err
	}
	if p.ExpiresAtMs <= 0 {
		return errors.New("transport: expires_at_ms must be greater than zero")
	}
	if strings.TrimSpace(p.PhoneToken) == "" {
		return errors.New("transport: phone_token must not be empty")
	}
	if _, err := DecodeChannelKeyB64(p.ChannelKeyB64); err != nil {
		return err
	}
	if p.Alg != AlgXChaCha20Poly1305HkdfSha256 {
		return errors.New("transport: unsupported relay algorithm")
	}
	return nil
}

// ValidateWsURL checks that raw is a ws:// or wss:// URL with a host.
func ValidateWsURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("transport: invalid ws URL: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return errors.New("transport: relay_ws_url must use ws:// or wss://")
	}
	if parsed.Hostname() == "" {
		return errors.New("transport: relay_ws_url must include a host")
	}
	return nil
}

// EncodePairing serializes a pairing payload to its wire string.
func EncodePairing(p *Pairing) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("transport: serialize pairing: %w", err)
	}
	return encodePayload(raw), nil
}

// DecodePairing parses and validates a wire string produced by
// EncodePairing, tolerating the legacy uncompressed shape.
func DecodePairing(encoded string) (*Pairing, error) {
	payload, err := decodePayload(encoded)
	if err != nil {
		return nil, err
	}

	var p Pairing
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("transport: parse pairing payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// BuildPairingDeepLink appends the encoded pairing payload to a base link
// as the wa_relay_v1 fragment parameter.
func BuildPairingDeepLink(baseLink, encodedPayload string) string {
	return appendFragmentParam(baseLink, PairingParam, encodedPayload)
}

// EncodeChannelKeyB64 encodes a 32-byte channel key for the pairing payload.
func EncodeChannelKeyB64(key []byte) string {
	return base64.RawURLEncoding.EncodeToString(key)
}

// DecodeChannelKeyB64 decodes and length-checks a channel key.
func DecodeChannelKeyB64(encoded string) ([]byte, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("transport: channel key decode: %w", err)
	}
	if len(decoded) != ChannelKeyBytes {
		return nil, fmt.Errorf("transport: channel key must be %d bytes", ChannelKeyBytes)
	}
	return decoded, nil
}

// EncodeNonceB64 encodes a 24-byte message nonce.
func EncodeNonceB64(nonce []byte) string {
	return base64.RawURLEncoding.EncodeToString(nonce)
}

// DecodeNonceB64 decodes and length-checks a message nonce.
func DecodeNonceB64(encoded string) ([]byte, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("transport: nonce decode: %w", err)
	}
	if len(decoded) != NonceBytes {
		return nil, fmt.Errorf("transport: nonce must be %d bytes", NonceBytes)
	}
	return decoded, nil
}

// EncodeCiphertextB64 encodes sealed message bytes for a relay frame.
func EncodeCiphertextB64(ciphertext []byte) string {
	return base64.RawURLEncoding.EncodeToString(ciphertext)
}

// DecodeCiphertextB64 decodes sealed message bytes from a relay frame.
func DecodeCiphertextB64(encoded string) ([]byte, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("transport: ciphertext decode: %w", err)
	}
	return decoded, nil
}
