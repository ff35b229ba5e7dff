package compressor

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Zstd compresses with github.com/klauspost/compress/zstd: materially
// better ratio and speed than gzip for typical cached payload sizes (JSON
// blobs, HTML fragments). The encoder/decoder pair is expensive to build,
// so each is constructed once and reused; klauspost's zstd encoders and
// decoders are documented safe for concurrent use.
type Zstd struct {
	encOnce sync.Once
	enc     *zstd.Encoder
	encErr  error

	decOnce sync.Once
	dec     *zstd.Decoder
	decErr  error
}

func (z *Zstd) encoder() (*zstd.Encoder, error) {
	z.encOnce.Do(func() {
		z.enc, z.encErr = zstd.NewWriter(nil)
	})
	return z.enc, z.encErr
}

func (z *Zstd) decoder() (*zstd.Decoder, error) {
	z.decOnce.Do(func() {
		z.dec, z.decErr = zstd.NewReader(nil)
	})
	return z.dec, z.decErr
}

func (z *Zstd) Compress(data []byte) ([]byte, error) {
	enc, err := z.encoder()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func (z *Zstd) Decompress(data []byte) ([]byte, error) {
	dec, err := z.decoder()
	if err != nil {
		return nil, err
	}
	return dec.DecodeAll(data, nil)
}
