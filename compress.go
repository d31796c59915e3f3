package protectql

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

const (
	defaultCompressionThreshold = 1024 // bytes
	minCompressionSavings       = 0.10

	// maxDecompressedSize caps expansion to keep a hostile payload from
	// consuming all memory on decrypt.
	maxDecompressedSize = 64 * 1024 * 1024
)

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdOnce    sync.Once
	zstdErr     error
)

func initZstd() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
		if zstdErr != nil {
			zstdEncoder.Close()
			zstdEncoder = nil
		}
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// maybeCompress compresses data when it is above the threshold and zstd
// actually saves enough to be worth carrying the flag. Returns the possibly
// compressed data and the envelope flag byte.
func maybeCompress(data []byte, threshold int, disabled bool) ([]byte, byte) {
	if disabled || len(data) < threshold {
		return data, flagNoCompression
	}
	encoder, _, err := initZstd()
	if err != nil {
		return data, flagNoCompression
	}
	compressed := encoder.EncodeAll(data, nil)
	savings := float64(len(data)-len(compressed)) / float64(len(data))
	if savings < minCompressionSavings {
		return data, flagNoCompression
	}
	return compressed, flagZstd
}

// decompress reverses maybeCompress based on the envelope flag.
func decompress(data []byte, flag byte) ([]byte, error) {
	switch flag {
	case flagNoCompression:
		return data, nil
	case flagZstd:
		_, decoder, err := initZstd()
		if err != nil {
			return nil, err
		}
		out, err := decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, ErrDecompressionFailed
		}
		if len(out) > maxDecompressedSize {
			return nil, ErrDecompressionFailed
		}
		return out, nil
	default:
		return nil, ErrUnsupportedCompression
	}
}
