// Package blobcodec compresses UTF-8 text to compact binary blobs and back.
// Large historical series live in the key-value store in this form; exact
// round-trip (Decompress(Compress(s)) == s) is the only contract.
package blobcodec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		panic(err)
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(err)
	}
}

// Compress encodes a UTF-8 string into a compact binary blob.
func Compress(s string) []byte {
	return CompressBytes([]byte(s))
}

// Decompress reverses Compress.
func Decompress(b []byte) (string, error) {
	out, err := DecompressBytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// CompressBytes encodes raw bytes into a compact binary blob.
func CompressBytes(b []byte) []byte {
	// EncodeAll is safe for concurrent use with a nil destination buffer.
	return encoder.EncodeAll(b, make([]byte, 0, len(b)/3+64))
}

// DecompressBytes reverses CompressBytes.
func DecompressBytes(b []byte) ([]byte, error) {
	out, err := decoder.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("blobcodec: decompress failed: %w", err)
	}
	return out, nil
}
