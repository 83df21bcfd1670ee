package compression

import (
	"bytes"
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	payload := []byte(strings.Repeat("row,value,value,value\n", 512))

	for _, algo := range []Algorithm{None, LZ4, Snappy, Zstd} {
		c, err := NewCompressor(algo)
		if err != nil {
			t.Fatalf("new compressor %q: %v", algo, err)
		}
		compressed, err := c.Compress(payload)
		if err != nil {
			t.Fatalf("compress %q: %v", algo, err)
		}
		decompressed, err := c.Decompress(compressed)
		if err != nil {
			t.Fatalf("decompress %q: %v", algo, err)
		}
		if !bytes.Equal(payload, decompressed) {
			t.Fatalf("round trip %q: payload mismatch", algo)
		}
	}
}

func TestCompressionShrinksRepetitiveData(t *testing.T) {
	payload := []byte(strings.Repeat("abcabcabc", 2048))
	c, err := NewCompressor(Zstd)
	if err != nil {
		t.Fatalf("new compressor: %v", err)
	}
	compressed, err := c.Compress(payload)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if len(compressed) >= len(payload) {
		t.Fatalf("expected compression to shrink %d bytes, got %d", len(payload), len(compressed))
	}
}

func TestEncodeDecodeString(t *testing.T) {
	c, err := NewCompressor(Zstd)
	if err != nil {
		t.Fatalf("new compressor: %v", err)
	}
	original := strings.Repeat(`{"id":1,"status":"active"}`+"\n", 256)
	encoded, err := EncodeString(c, original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.HasPrefix(encoded, "zstd:") {
		t.Fatalf("expected zstd prefix, got %q", encoded[:16])
	}
	decoded, err := DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != original {
		t.Fatalf("round trip mismatch")
	}
}

func TestDecodeStringRejectsGarbage(t *testing.T) {
	if _, err := DecodeString("no prefix here"); err == nil {
		t.Fatalf("expected error for payload without separator after algorithm")
	}
	if _, err := DecodeString("bogus:AAAA"); err == nil {
		t.Fatalf("expected error for unknown algorithm")
	}
	if _, err := DecodeString("zstd:%%%"); err == nil {
		t.Fatalf("expected error for invalid base64")
	}
}

func TestUnsupportedAlgorithm(t *testing.T) {
	if _, err := NewCompressor("gzip9"); err == nil {
		t.Fatalf("expected error for unsupported algorithm")
	}
}
