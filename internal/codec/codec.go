// Package codec converts between wire payloads and the canonical request and
// status types. One codec is chosen per transport.
package codec

import (
	"errors"
	"fmt"
	"strings"

	"corral/internal/request"
	"corral/internal/status"
)

// ErrDecode is returned for payloads that are not well formed in the codec's
// encoding.
var ErrDecode = errors.New("decode error")

// Encoding names a wire encoding.
type Encoding string

const (
	JSON     Encoding = "json"
	Protobuf Encoding = "protobuf"
)

// ParseEncoding validates an encoding name from configuration.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(strings.ToLower(s)) {
	case JSON:
		return JSON, nil
	case Protobuf, "proto":
		return Protobuf, nil
	}
	return "", fmt.Errorf("unknown encoding %q", s)
}

// ContentType is the media type used for unencrypted payloads.
func (e Encoding) ContentType() string {
	if e == Protobuf {
		return "application/x-protobuf"
	}
	return "application/json"
}

// Codec decodes requests and encodes statuses in one wire encoding.
type Codec interface {
	Encoding() Encoding
	DecodeRequest(data []byte) (request.ContainerRequest, error)
	EncodeRequest(req request.ContainerRequest) ([]byte, error)
	EncodeStatus(st status.Status) ([]byte, error)
	DecodeStatus(data []byte) (status.Status, error)
}

// New returns the codec for enc.
func New(enc Encoding) (Codec, error) {
	switch enc {
	case JSON:
		return JSONCodec{}, nil
	case Protobuf:
		return ProtobufCodec{}, nil
	}
	return nil, fmt.Errorf("unknown encoding %q", enc)
}

// Set holds one codec per encoding.
type Set map[Encoding]Codec

// DefaultSet returns a Set with every supported codec.
func DefaultSet() Set {
	return Set{
		JSON:     JSONCodec{},
		Protobuf: ProtobufCodec{},
	}
}

// Lookup returns the codec for enc.
func (s Set) Lookup(enc Encoding) (Codec, error) {
	c, ok := s[enc]
	if !ok {
		return nil, fmt.Errorf("no codec registered for %q", enc)
	}
	return c, nil
}
