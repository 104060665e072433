package relaycrypto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/walletabi/relaygo/internal/transport"
)

func TestSealOpenRoundtrip(t *testing.T) {
	key, err := NewChannelKey()
	if err != nil {
		t.Fatalf("NewChannelKey failed: %v", err)
	}
	nonce, err := NewNonce()
	if err != nil {
		t.Fatalf("NewNonce failed: %v", err)
	}

	plaintext := []byte(`{"request_id":"req-9","tx":{"to":"0xabc"}}`)

	ciphertext, err := Seal(key, "pair-9", transport.DirectionWebToPhone, "msg-9", nonce, plaintext)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if bytes.Contains(ciphertext, []byte("request_id")) {
		t.Error("ciphertext leaks plaintext")
	}

	opened, err := Open(key, "pair-9", transport.DirectionWebToPhone, "msg-9", nonce, ciphertext)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Error("roundtrip plaintext mismatch")
	}
}

// Fixed vector pinning the key derivation and AEAD layout. A change to
// the HKDF salt, info string, or AAD shape breaks this test.
func TestSealKnownVector(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, transport.ChannelKeyBytes)
	nonce := bytes.Repeat([]byte{0x22}, transport.NonceBytes)
	plaintext := []byte(`{"request_id":"req-1"}`)

	ciphertext, err := Seal(key, "pair-1", transport.DirectionWebToPhone, "msg-1", nonce, plaintext)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	const want = "0398150cd1167eacfc6f87bca67c9b7399113ec70071fc01bd858fd81d94b06dcb90023a7205"
	if got := hex.EncodeToString(ciphertext); got != want {
		t.Errorf("ciphertext mismatch:\n got  %s\n want %s", got, want)
	}
}

func TestDirectionalKeysDiffer(t *testing.T) {
	key := bytes.Repeat([]byte{0x33}, transport.ChannelKeyBytes)

	k1, err := DeriveDirectionalKey(key, "pair-1", transport.DirectionWebToPhone)
	if err != nil {
		t.Fatalf("derive web_to_phone failed: %v", err)
	}
	k2, err := DeriveDirectionalKey(key, "pair-1", transport.DirectionPhoneToWeb)
	if err != nil {
		t.Fatalf("derive phone_to_web failed: %v", err)
	}
	if bytes.Equal(k1, k2) {
		t.Error("both directions derived the same key")
	}

	k3, err := DeriveDirectionalKey(key, "pair-2", transport.DirectionWebToPhone)
	if err != nil {
		t.Fatalf("derive for second pairing failed: %v", err)
	}
	if bytes.Equal(k1, k3) {
		t.Error("different pairings derived the same key")
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	key := bytes.Repeat([]byte{0x44}, transport.ChannelKeyBytes)
	nonce := bytes.Repeat([]byte{0x55}, transport.NonceBytes)
	plaintext := []byte("sealed payload")

	ciphertext, err := Seal(key, "pair-7", transport.DirectionPhoneToWeb, "msg-7", nonce, plaintext)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	flipped := append([]byte{}, ciphertext...)
	flipped[0] ^= 0x01
	if _, err := Open(key, "pair-7", transport.DirectionPhoneToWeb, "msg-7", nonce, flipped); !errors.Is(err, ErrDecrypt) {
		t.Errorf("tampered ciphertext accepted: %v", err)
	}

	// Wrong direction is a different key and a different AAD.
	if _, err := Open(key, "pair-7", transport.DirectionWebToPhone, "msg-7", nonce, ciphertext); !errors.Is(err, ErrDecrypt) {
		t.Errorf("wrong-direction open accepted: %v", err)
	}

	// AAD binds the message id.
	if _, err := Open(key, "pair-7", transport.DirectionPhoneToWeb, "msg-8", nonce, ciphertext); !errors.Is(err, ErrDecrypt) {
		t.Errorf("wrong msg_id open accepted: %v", err)
	}
}

func TestDeriveDirectionalKeyValidation(t *testing.T) {
	if _, err := DeriveDirectionalKey([]byte("short"), "pair-1", transport.DirectionWebToPhone); err == nil {
		t.Error("short channel key accepted")
	}
	key := bytes.Repeat([]byte{0x66}, transport.ChannelKeyBytes)
	if _, err := DeriveDirectionalKey(key, "  ", transport.DirectionWebToPhone); err == nil {
		t.Error("blank pairing id accepted")
	}
	if _, err := DeriveDirectionalKey(key, "pair-1", transport.Direction("sideways")); err == nil {
		t.Error("unknown direction accepted")
	}
}
