// Package textenc resolves caller-supplied text encoding names and decodes
// file contents to UTF-8. Coordinate and template files produced on clusters
// are occasionally GBK or Latin-1; the encoding name is looked up in the IANA
// charset registry.
package textenc

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// ErrEncoding reports an unknown encoding name or undecodable bytes.
var ErrEncoding = errors.New("encoding error")

// Decode converts data from the named encoding to a UTF-8 string. An empty
// name means UTF-8. Unknown names and decode failures wrap ErrEncoding.
func Decode(data []byte, name string) (string, error) {
	enc, err := lookup(name)
	if err != nil {
		return "", err
	}
	if enc == nil {
		if !utf8.Valid(data) {
			return "", fmt.Errorf("%w: input is not valid UTF-8", ErrEncoding)
		}
		return string(data), nil
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("%w: decode as %q: %v", ErrEncoding, name, err)
	}
	return string(out), nil
}

// Encode converts a UTF-8 string to the named encoding. An empty name means
// UTF-8.
func Encode(s, name string) ([]byte, error) {
	enc, err := lookup(name)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return []byte(s), nil
	}
	out, err := enc.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("%w: encode as %q: %v", ErrEncoding, name, err)
	}
	return out, nil
}

func lookup(name string) (encoding.Encoding, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, nil
	}
	switch strings.ToLower(trimmed) {
	case "utf-8", "utf8":
		return nil, nil
	}
	enc, err := ianaindex.IANA.Encoding(trimmed)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("%w: unknown encoding %q", ErrEncoding, name)
	}
	return enc, nil
}
