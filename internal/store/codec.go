package store

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how raw HTML is stored.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// ParseCompression maps a config value to a Compression. Empty means zstd.
func ParseCompression(s string) (Compression, error) {
	switch Compression(s) {
	case "":
		return CompressionZstd, nil
	case CompressionNone, CompressionZstd, CompressionLZ4:
		return Compression(s), nil
	default:
		return "", fmt.Errorf("unknown compression %q (valid: zstd, lz4, none)", s)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// encode compresses data and returns the codec actually used. Input that
// LZ4 cannot shrink is stored as-is.
func encode(c Compression, data []byte) (Compression, []byte, error) {
	if len(data) == 0 {
		return CompressionNone, data, nil
	}
	switch c {
	case CompressionZstd:
		enc := getZstdEncoder()
		defer zstdEncoderPool.Put(enc)
		return CompressionZstd, enc.EncodeAll(data, nil), nil
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return "", nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 {
			return CompressionNone, data, nil
		}
		return CompressionLZ4, buf[:n], nil
	default:
		return CompressionNone, data, nil
	}
}

// decode reverses encode. size is the uncompressed length, needed by LZ4
// block decoding.
func decode(c Compression, data []byte, size int) ([]byte, error) {
	switch c {
	case CompressionNone, "":
		return data, nil
	case CompressionZstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(data, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	case CompressionLZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != size {
			return nil, fmt.Errorf("lz4 decompressed %d bytes, expected %d", n, size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown stored encoding %q", c)
	}
}
