package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/LatchDB/latch/pkg/config"
)

var (
	// ErrUnknownCodec is returned when an unsupported compression codec is specified
	ErrUnknownCodec = errors.New("unknown compression codec")

	// ErrInvalidCompressedData is returned when compressed data cannot be decompressed
	ErrInvalidCompressedData = errors.New("invalid compressed data")
)

// Codec identifiers persisted in snapshot headers.
const (
	codecNone   = byte(0)
	codecSnappy = byte(1)
	codecZstd   = byte(2)
)

func codecFromName(name string) (byte, error) {
	switch name {
	case config.CompressionNone:
		return codecNone, nil
	case config.CompressionSnappy:
		return codecSnappy, nil
	case config.CompressionZstd:
		return codecZstd, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// compressor compresses and decompresses snapshot payloads.
type compressor struct {
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder

	// Mutex to protect encoder/decoder access
	mu sync.Mutex
}

// newCompressor creates a compressor with initialized codecs.
func newCompressor() (*compressor, error) {
	zstdEncoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZSTD encoder: %w", err)
	}

	zstdDecoder, err := zstd.NewReader(nil)
	if err != nil {
		zstdEncoder.Close()
		return nil, fmt.Errorf("failed to create ZSTD decoder: %w", err)
	}

	return &compressor{
		zstdEncoder: zstdEncoder,
		zstdDecoder: zstdDecoder,
	}, nil
}

// compress compresses data using the specified codec.
func (c *compressor) compress(data []byte, codec byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	switch codec {
	case codecNone:
		return data, nil
	case codecSnappy:
		return snappy.Encode(nil, data), nil
	case codecZstd:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.zstdEncoder.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, codec)
	}
}

// decompress decompresses data using the specified codec.
func (c *compressor) decompress(data []byte, codec byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	switch codec {
	case codecNone:
		return data, nil
	case codecSnappy:
		decompressed, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCompressedData, err)
		}
		return decompressed, nil
	case codecZstd:
		c.mu.Lock()
		defer c.mu.Unlock()
		decompressed, err := c.zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCompressedData, err)
		}
		return decompressed, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, codec)
	}
}

// close releases codec resources.
func (c *compressor) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.zstdEncoder != nil {
		c.zstdEncoder.Close()
		c.zstdEncoder = nil
	}
	if c.zstdDecoder != nil {
		c.zstdDecoder.Close()
		c.zstdDecoder = nil
	}
}
