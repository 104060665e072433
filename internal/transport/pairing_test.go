package transport

import (
	"bytes"
	"strings"
	"testing"
)

func samplePairing() *Pairing {
	key := bytes.Repeat([]byte{0x42}, ChannelKeyBytes)
	return &Pairing{
		V:             Version,
		PairingID:     "3f8e9a10-6a54-4f5b-9a51-2f87cf2b2a01",
		RelayWsURL:    "wss://relay.example/v1/ws",
		ExpiresAtMs:   1_700_000_120_000,
		PhoneToken:    "token-abc",
		ChannelKeyB64: EncodeChannelKeyB64(key),
		Alg:           AlgXChaCha20Poly1305HkdfSha256,
	}
}

func TestPairingRoundtrip(t *testing.T) {
	p := samplePairing()

	encoded, err := EncodePairing(p)
	if err != nil {
		t.Fatalf("EncodePairing failed: %v", err)
	}

	decoded, err := DecodePairing(encoded)
	if err != nil {
		t.Fatalf("DecodePairing failed: %v", err)
	}
	if decoded.PairingID != p.PairingID || decoded.PhoneToken != p.PhoneToken {
		t.Errorf("pairing fields mismatch: %+v", decoded)
	}

	key, err := DecodeChannelKeyB64(decoded.ChannelKeyB64)
	if err != nil {
		t.Fatalf("channel key decode failed: %v", err)
	}
	if len(key) != ChannelKeyBytes {
		t.Errorf("channel key length %d", len(key))
	}
}

func TestPairingValidate(t *testing.T) {
	p := samplePairing()
	p.RelayWsURL = "https://relay.example/v1/ws"
	if err := p.Validate(); err == nil {
		t.Error("https relay URL accepted")
	}

	p = samplePairing()
	p.Alg = "aes_gcm"
	if err := p.Validate(); err == nil {
		t.Error("unknown algorithm accepted")
	}

	p = samplePairing()
	p.ChannelKeyB64 = EncodeChannelKeyB64([]byte("short"))
	if err := p.Validate(); err == nil {
		t.Error("short channel key accepted")
	}

	p = samplePairing()
	p.PhoneToken = "  "
	if err := p.Validate(); err == nil {
		t.Error("blank phone token accepted")
	}

	p = samplePairing()
	p.V = 2
	if err := p.Validate(); err == nil {
		t.Error("unknown version accepted")
	}
}

func TestPairingDeepLink(t *testing.T) {
	link := BuildPairingDeepLink("https://wallet.example/link", "QRPAYLOAD")
	if !strings.HasSuffix(link, "#wa_relay_v1=QRPAYLOAD") {
		t.Fatalf("unexpected pairing deep link: %s", link)
	}

	value, ok := ExtractFragmentParam(link, PairingParam)
	if !ok || value != "QRPAYLOAD" {
		t.Errorf("pairing fragment extract failed: %q %v", value, ok)
	}
}

func TestNonceAndCiphertextEncoding(t *testing.T) {
	nonce := bytes.Repeat([]byte{0x7}, NonceBytes)
	decoded, err := DecodeNonceB64(EncodeNonceB64(nonce))
	if err != nil || !bytes.Equal(decoded, nonce) {
		t.Errorf("nonce roundtrip failed: %v", err)
	}

	if _, err := DecodeNonceB64(EncodeNonceB64([]byte("too-short"))); err == nil {
		t.Error("short nonce accepted")
	}

	ct := []byte{0xde, 0xad, 0xbe, 0xef}
	decodedCt, err := DecodeCiphertextB64(EncodeCiphertextB64(ct))
	if err != nil || !bytes.Equal(decodedCt, ct) {
		t.Errorf("ciphertext roundtrip failed: %v", err)
	}
}
