// Package transport defines the wallet-link wire vocabulary: the versioned
// request/response envelopes exchanged between a web origin and a phone
// wallet, the pairing-connect payload scanned from a QR code, and the
// base64url-of-compressed-JSON encoding shared by all of them.
package transport

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const (
	// Version tags every envelope kind on the wire.
	Version = 1

	// KindTxCreate is the only request flow currently supported.
	KindTxCreate = "tx_create"

	// Fragment parameter names used on deep links.
	RequestParam  = "wa_v1"
	ResponseParam = "wa_resp_v1"
	PairingParam  = "wa_relay_v1"

	// MaxDecodedBytes bounds a decoded envelope. Exceeding it is a hard
	// decode failure, never a truncation.
	MaxDecodedBytes = 64 * 1024

	// MaxRequestTTLMs caps expires_at_ms - created_at_ms on a request.
	MaxRequestTTLMs = int64(120_000)

	// ReplayWindowMs bounds how far a request's created_at_ms may lie from
	// "now" at validation time.
	ReplayWindowMs = int64(600_000)
)

// Role identifies one of the two fixed participants of a pairing.
type Role string

const (
	RoleWeb   Role = "web"
	RolePhone Role = "phone"
)

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleWeb || r == RolePhone
}

// Direction identifies which way a message travels inside a pairing.
type Direction string

const (
	DirectionWebToPhone Direction = "web_to_phone"
	DirectionPhoneToWeb Direction = "phone_to_web"
)

// Valid reports whether d is one of the two known directions.
func (d Direction) Valid() bool {
	return d == DirectionWebToPhone || d == DirectionPhoneToWeb
}

// SenderRole returns the role allowed to publish in this direction.
func (d Direction) SenderRole() Role {
	if d == DirectionWebToPhone {
		return RoleWeb
	}
	return RolePhone
}

// ReceiverRole returns the role messages in this direction are addressed to.
func (d Direction) ReceiverRole() Role {
	if d == DirectionWebToPhone {
		return RolePhone
	}
	return RoleWeb
}

// DirectionToward returns the direction whose messages are addressed to role.
func DirectionToward(role Role) Direction {
	if role == RoleWeb {
		return DirectionPhoneToWeb
	}
	return DirectionWebToPhone
}

// CallbackMode selects how the phone returns a response to the origin.
type CallbackMode string

const (
	CallbackSameDeviceHTTPS CallbackMode = "same_device_https"
	CallbackBackendPush     CallbackMode = "backend_push"
	CallbackQrRoundtrip     CallbackMode = "qr_roundtrip"
)

// Callback describes the response path embedded in a request envelope.
type Callback struct {
	Mode      CallbackMode `json:"mode"`
	URL       string       `json:"url,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
}

// Request is the v1 transaction-authorization request envelope. The
// tx_create_request payload is opaque to everything in this repository.
type Request struct {
	V               int             `json:"v"`
	Kind            string          `json:"kind"`
	RequestID       string          `json:"request_id"`
	Origin          string          `json:"origin"`
	CreatedAtMs     int64           `json:"created_at_ms"`
	ExpiresAtMs     int64           `json:"expires_at_ms"`
	Callback        Callback        `json:"callback"`
	TxCreateRequest json.RawMessage `json:"tx_create_request"`
}

// ResponseError is the structured failure carried by a response envelope.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response is the v1 transaction-authorization response envelope. Exactly
// one of TxCreateResponse and Error is expected to be set.
type Response struct {
	V                int             `json:"v"`
	RequestID        string          `json:"request_id"`
	Origin           string          `json:"origin"`
	ProcessedAtMs    int64           `json:"processed_at_ms"`
	TxCreateResponse json.RawMessage `json:"tx_create_response,omitempty"`
	Error            *ResponseError  `json:"error,omitempty"`
}

// ErrSizeExceeded reports a decoded payload above MaxDecodedBytes.
var ErrSizeExceeded = errors.New("transport: payload exceeds maximum decoded size")

// BuildRequestInput carries the caller-supplied fields for BuildRequest.
type BuildRequestInput struct {
	RequestID       string
	Origin          string
	CreatedAtMs     int64
	TTLMs           int64
	CallbackMode    CallbackMode
	CallbackURL     string
	TxCreateRequest json.RawMessage
}

// BuildRequest validates the input and assembles a v1 request envelope.
func BuildRequest(in BuildRequestInput) (*Request, error) {
	if strings.TrimSpace(in.RequestID) == "" {
		return nil, errors.New("transport: request_id must not be blank")
	}

	if err := ValidateHTTPSURL(in.Origin, "origin"); err != nil {
		return nil, err
	}

	if in.TTLMs <= 0 || in.TTLMs > MaxRequestTTLMs {
		return nil, fmt.Errorf("transport: ttl_ms must be in 1..=%d", MaxRequestTTLMs)
	}

	callback := Callback{Mode: in.CallbackMode}
	switch in.CallbackMode {
	case CallbackQrRoundtrip:
		if in.CallbackURL != "" {
			return nil, errors.New("transport: callback_url must be omitted for qr_roundtrip")
		}
	case CallbackSameDeviceHTTPS, CallbackBackendPush:
		if in.CallbackURL == "" {
			return nil, errors.New("transport: callback_url is required for same_device_https and backend_push")
		}
		if err := ValidateHTTPSURL(in.CallbackURL, "callback_url"); err != nil {
			return nil, err
		}
		callback.URL = in.CallbackURL
	default:
		return nil, fmt.Errorf("transport: unknown callback mode %q", in.CallbackMode)
	}

	return &Request{
		V:               Version,
		Kind:            KindTxCreate,
		RequestID:       in.RequestID,
		Origin:          in.Origin,
		CreatedAtMs:     in.CreatedAtMs,
		ExpiresAtMs:     in.CreatedAtMs + in.TTLMs,
		Callback:        callback,
		TxCreateRequest: in.TxCreateRequest,
	}, nil
}

// ValidateRequestTiming enforces the TTL ceiling, expiry, and the replay
// window on an already-decoded request envelope.
func ValidateRequestTiming(req *Request, nowMs int64) error {
	ttl := req.ExpiresAtMs - req.CreatedAtMs
	if ttl <= 0 {
		return errors.New("transport: expires_at_ms must be after created_at_ms")
	}
	if ttl > MaxRequestTTLMs {
		return fmt.Errorf("transport: request ttl %d ms exceeds maximum %d ms", ttl, MaxRequestTTLMs)
	}
	if nowMs > req.ExpiresAtMs {
		return errors.New("transport: request is expired")
	}

	skew := nowMs - req.CreatedAtMs
	if skew < 0 {
		skew = -skew
	}
	if skew > ReplayWindowMs {
		return fmt.Errorf("transport: created_at_ms outside the %d ms replay window", ReplayWindowMs)
	}

	return nil
}

// EncodeRequest serializes a request envelope to its wire string.
func EncodeRequest(req *Request) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("transport: serialize request: %w", err)
	}
	return encodePayload(raw), nil
}

// EncodeResponse serializes a response envelope to its wire string.
func EncodeResponse(resp *Response) (string, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("transport: serialize response: %w", err)
	}
	return encodePayload(raw), nil
}

// DecodeRequest parses a wire string produced by EncodeRequest or by a
// legacy uncompressed encoder.
func DecodeRequest(encoded string) (*Request, error) {
	payload, err := decodePayload(encoded)
	if err != nil {
		return nil, err
	}

	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("transport: parse request envelope: %w", err)
	}
	return &req, nil
}

// DecodeResponse parses a wire string produced by EncodeResponse or by a
// legacy uncompressed encoder.
func DecodeResponse(encoded string) (*Response, error) {
	payload, err := decodePayload(encoded)
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("transport: parse response envelope: %w", err)
	}
	return &resp, nil
}

// BuildDeepLink appends the encoded request envelope to a base link as the
// wa_v1 fragment parameter.
func BuildDeepLink(baseLink, encodedPayload string) string {
	return appendFragmentParam(baseLink, RequestParam, encodedPayload)
}

// ExtractFragmentParam pulls one key's value out of a URI fragment. It
// accepts either a full URI or a bare fragment string.
func ExtractFragmentParam(uriOrFragment, key string) (string, bool) {
	fragment := uriOrFragment
	if _, after, found := strings.Cut(uriOrFragment, "#"); found {
		fragment = after
	}
	fragment = strings.TrimSpace(strings.TrimPrefix(fragment, "#"))
	if fragment == "" {
		return "", false
	}

	for _, pair := range strings.Split(fragment, "&") {
		k, v, found := strings.Cut(pair, "=")
		if found && k == key {
			return v, true
		}
	}
	return "", false
}

// ValidateHTTPSURL checks that url is a plausible https:// URL with a host.
func ValidateHTTPSURL(url, fieldName string) error {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return fmt.Errorf("transport: %s must not be empty", fieldName)
	}

	withoutScheme, ok := strings.CutPrefix(trimmed, "https://")
	if !ok {
		return fmt.Errorf("transport: %s must use https://", fieldName)
	}

	host := withoutScheme
	if idx := strings.IndexAny(host, "/?#"); idx >= 0 {
		host = host[:idx]
	}
	if host == "" {
		return fmt.Errorf("transport: %s must include a host", fieldName)
	}
	if strings.Contains(host, " ") {
		return fmt.Errorf("transport: %s host must not contain spaces", fieldName)
	}

	return nil
}

func appendFragmentParam(baseLink, key, value string) string {
	separator := "#"
	if strings.Contains(baseLink, "#") {
		separator = "&"
	}
	return baseLink + separator + key + "=" + value
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic(err)
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(8*MaxDecodedBytes))
	if err != nil {
		panic(err)
	}
}

func encodePayload(raw []byte) string {
	compressed := zstdEncoder.EncodeAll(raw, nil)
	return base64.RawURLEncoding.EncodeToString(compressed)
}

// decodePayload reverses encodePayload. Payloads written by older encoders
// were base64url of raw JSON; when decompression fails the bytes are used
// as-is, so both shapes remain supported inputs.
func decodePayload(encoded string) ([]byte, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("transport: base64url decode: %w", err)
	}

	payload, err := zstdDecoder.DecodeAll(decoded, nil)
	if err != nil {
		payload = decoded
	}

	if len(payload) > MaxDecodedBytes {
		return nil, ErrSizeExceeded
	}

	return payload, nil
}
