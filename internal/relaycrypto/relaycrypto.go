// Package relaycrypto derives per-direction message keys from a pairing's
// shared channel key and seals payloads with XChaCha20-Poly1305. The relay
// itself never calls Seal or Open; both endpoints of a pairing do.
package relaycrypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/walletabi/relaygo/internal/transport"
)

// hkdfContext binds derived keys to this protocol version.
const hkdfContext = "wallet_abi_relay_v1"

var (
	// ErrDecrypt is returned on any authentication failure. Decryption
	// fails closed: no partial plaintext is ever returned.
	ErrDecrypt = errors.New("relaycrypto: decryption failed")

	// ErrEncrypt is returned when sealing fails.
	ErrEncrypt = errors.New("relaycrypto: encryption failed")
)

// NewChannelKey generates a random 32-byte pairing secret.
func NewChannelKey() ([]byte, error) {
	key := make([]byte, transport.ChannelKeyBytes)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("relaycrypto: generate channel key: %w", err)
	}
	return key, nil
}

// NewNonce generates a random 24-byte XChaCha20-Poly1305 nonce. The 192-bit
// nonce space makes random generation safe without a counter.
func NewNonce() ([]byte, error) {
	nonce := make([]byte, transport.NonceBytes)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("relaycrypto: generate nonce: %w", err)
	}
	return nonce, nil
}

// DeriveDirectionalKey derives one direction's 32-byte message key via
// HKDF-SHA256, salted with the pairing id and context-bound to the
// direction label so the two directions never share key material.
func DeriveDirectionalKey(channelKey []byte, pairingID string, direction transport.Direction) ([]byte, error) {
	if len(channelKey) != transport.ChannelKeyBytes {
		return nil, fmt.Errorf("relaycrypto: channel key must be %d bytes", transport.ChannelKeyBytes)
	}
	if strings.TrimSpace(pairingID) == "" {
		return nil, errors.New("relaycrypto: pairing_id must not be empty")
	}
	if !direction.Valid() {
		return nil, fmt.Errorf("relaycrypto: unknown direction %q", direction)
	}

	info := append([]byte(hkdfContext), []byte(direction)...)
	reader := hkdf.New(sha256.New, channelKey, []byte(pairingID), info)

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("relaycrypto: hkdf expand: %w", err)
	}
	return key, nil
}

// BuildAAD produces the additional authenticated data binding a ciphertext
// to its pairing, direction, and message id.
func BuildAAD(pairingID string, direction transport.Direction, msgID string) []byte {
	return []byte(pairingID + "|" + string(direction) + "|" + msgID)
}

// Seal encrypts plaintext under the direction's derived key.
func Seal(channelKey []byte, pairingID string, direction transport.Direction, msgID string, nonce, plaintext []byte) ([]byte, error) {
	aead, err := directionalAEAD(channelKey, pairingID, direction)
	if err != nil {
		return nil, err
	}
	if len(nonce) != transport.NonceBytes {
		return nil, fmt.Errorf("relaycrypto: nonce must be %d bytes", transport.NonceBytes)
	}

	return aead.Seal(nil, nonce, plaintext, BuildAAD(pairingID, direction, msgID)), nil
}

// Open decrypts ciphertext under the direction's derived key. Any
// authentication-tag mismatch is a hard reject.
func Open(channelKey []byte, pairingID string, direction transport.Direction, msgID string, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := directionalAEAD(channelKey, pairingID, direction)
	if err != nil {
		return nil, err
	}
	if len(nonce) != transport.NonceBytes {
		return nil, fmt.Errorf("relaycrypto: nonce must be %d bytes", transport.NonceBytes)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, BuildAAD(pairingID, direction, msgID))
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func directionalAEAD(channelKey []byte, pairingID string, direction transport.Direction) (cipher.AEAD, error) {
	key, err := DeriveDirectionalKey(channelKey, pairingID, direction)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncrypt, err)
	}
	return aead, nil
}
