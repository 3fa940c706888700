package httpcache

// codec.go implements the CompressedInMemory body codec spec.md §4.7 step 4
// refers to ("body decompression happens lazily for CompressedInMemory").
// zstd is already an indirect dependency of the teacher's Badger stack
// (badger's value-log compression); this promotes it to a direct,
// explicitly-used dependency rather than reaching for the standard
// library's gzip, since zstd is both faster and the codec the rest of this
// module's storage layer (Badger) already speaks.
import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const zstdCodecName = "zstd"

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

func getEncoder() *zstd.Encoder {
	encoderOnce.Do(func() {
		encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return encoder
}

func getDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil)
	})
	return decoder
}

// CompressBody compresses body with zstd, for the CompressedInMemory body
// variant.
func CompressBody(body []byte) ([]byte, string) {
	return getEncoder().EncodeAll(body, nil), zstdCodecName
}

// DecompressBody reverses CompressBody for codec "zstd"; a body tagged with
// any other codec is returned unchanged.
func DecompressBody(compressed []byte, codec string) ([]byte, error) {
	if codec != zstdCodecName {
		return io.ReadAll(bytes.NewReader(compressed)) // unknown codec: pass through
	}
	return getDecoder().DecodeAll(compressed, nil)
}
