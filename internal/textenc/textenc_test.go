package textenc

import (
	"errors"
	"testing"
)

func TestUTF8Passthrough(t *testing.T) {
	for _, name := range []string{"", "utf-8", "UTF-8", "utf8"} {
		got, err := Decode([]byte("O 0.0 0.0 0.0"), name)
		if err != nil {
			t.Fatalf("Decode(%q) error = %v", name, err)
		}
		if got != "O 0.0 0.0 0.0" {
			t.Fatalf("Decode(%q) = %q", name, got)
		}
	}
}

func TestRoundTripGBK(t *testing.T) {
	const s = "水分子 water"
	data, err := Encode(s, "GBK")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	back, err := Decode(data, "gbk")
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if back != s {
		t.Fatalf("round trip = %q, want %q", back, s)
	}
}

func TestDecodeRejectsInvalidUTF8(t *testing.T) {
	bad := []byte{0x66, 0xff, 0xfe, 0x67}
	for _, name := range []string{"", "utf-8"} {
		if _, err := Decode(bad, name); !errors.Is(err, ErrEncoding) {
			t.Fatalf("Decode(%q) error = %v, want ErrEncoding", name, err)
		}
	}
}

func TestUnknownEncoding(t *testing.T) {
	if _, err := Decode([]byte("x"), "no-such-charset"); !errors.Is(err, ErrEncoding) {
		t.Fatalf("Decode() error = %v, want ErrEncoding", err)
	}
	if _, err := Encode("x", "no-such-charset"); !errors.Is(err, ErrEncoding) {
		t.Fatalf("Encode() error = %v, want ErrEncoding", err)
	}
}
