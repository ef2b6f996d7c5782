// Package credentials supplies the authentication headers attached to every call.
//
// How a signature is produced is up to the Credentials implementation. Static
// covers the common case of a device key and a pre-issued signature, and can
// be persisted as an opaque blob.
package credentials

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"glweb/protocol"
)

const (
	HeaderPubKey    = "glauthpubkey"
	HeaderSignature = "glauthsig"
	HeaderTimestamp = "glts"
)

var ErrMalformed = errors.New("credentials: malformed credential blob")

// Credentials produces authentication header values. Implementations must be
// safe for concurrent use; calls share one instance.
type Credentials interface {
	PublicKey() []byte
	Sign(body []byte) ([]byte, error)
}

// Apply sets the public key, signature and timestamp headers for body.
func Apply(h http.Header, c Credentials, body []byte, now time.Time) error {
	sig, err := c.Sign(body)
	if err != nil {
		return fmt.Errorf("credentials: sign: %w", err)
	}
	h.Set(HeaderPubKey, base64.StdEncoding.EncodeToString(c.PublicKey()))
	h.Set(HeaderSignature, base64.StdEncoding.EncodeToString(sig))
	h.Set(HeaderTimestamp, Timestamp(now))
	return nil
}

// Timestamp encodes t as an 8-byte big-endian buffer holding unix seconds in
// its low 4 bytes, base64 encoded.
func Timestamp(t time.Time) string {
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[4:], uint32(t.Unix()))
	return base64.StdEncoding.EncodeToString(buf[:])
}

// ParseTimestamp reverses Timestamp.
func ParseTimestamp(v string) (time.Time, error) {
	raw, err := base64.StdEncoding.DecodeString(v)
	if err != nil || len(raw) != 8 {
		return time.Time{}, fmt.Errorf("credentials: bad timestamp %q", v)
	}
	return time.Unix(int64(binary.BigEndian.Uint32(raw[4:])), 0), nil
}

// Static holds a fixed public key and signature.
type Static struct {
	pubKey    []byte
	signature []byte
}

// NewStatic copies pubKey and signature.
func NewStatic(pubKey, signature []byte) *Static {
	return &Static{
		pubKey:    bytes.Clone(pubKey),
		signature: bytes.Clone(signature),
	}
}

func (s *Static) PublicKey() []byte { return s.pubKey }

// Sign returns the pre-issued signature regardless of body.
func (s *Static) Sign([]byte) ([]byte, error) {
	if len(s.signature) == 0 {
		return nil, errors.New("credentials: no signature")
	}
	return s.signature, nil
}

// Bytes serializes the credentials as an opaque blob.
func (s *Static) Bytes() []byte {
	var buf bytes.Buffer
	_ = protocol.Encode(&buf, protocol.FlagData, s.pubKey)
	_ = protocol.Encode(&buf, protocol.FlagData, s.signature)
	return buf.Bytes()
}

// FromBytes parses a blob written by Bytes.
func FromBytes(b []byte) (*Static, error) {
	r := bytes.NewReader(b)
	key, err := protocol.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	sig, err := protocol.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, err := protocol.Decode(r); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformed)
	}
	return &Static{pubKey: key.Payload, signature: sig.Payload}, nil
}

// Save writes the blob to path with owner-only permissions.
func (s *Static) Save(path string) error {
	return os.WriteFile(path, s.Bytes(), 0o600)
}

// Load reads a blob written by Save.
func Load(path string) (*Static, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}
	return FromBytes(b)
}
