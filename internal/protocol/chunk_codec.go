package protocol

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/annel0/voxel-core/internal/world"
)

// Compression способ сжатия потока серий чанка
type Compression byte

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
)

// ParseCompression разбирает имя из конфига
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("неизвестный способ сжатия %q", name)
	}
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", byte(c))
	}
}

// ErrEmptyFrame пустой кадр без байта сжатия
var ErrEmptyFrame = errors.New("пустой кадр чанка")

// ChunkSerializer упаковывает чанк в кадр: байт способа сжатия и поток серий.
// Кодер и декодер zstd безопасны для одновременного EncodeAll/DecodeAll.
type ChunkSerializer struct {
	compression Compression
	maxRunBytes int
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
}

// NewChunkSerializer создаёт сериализатор с указанным сжатием для записи.
// Читать он умеет кадры с любым поддерживаемым сжатием. side и padding задают
// геометрию чанков: распакованный кадр не может быть длиннее потока серий
// такого чанка.
func NewChunkSerializer(compression Compression, side, padding int) (*ChunkSerializer, error) {
	if compression != CompressionNone && compression != CompressionZstd {
		return nil, fmt.Errorf("неподдерживаемое сжатие %s", compression)
	}
	if side <= 0 || padding < 0 {
		return nil, fmt.Errorf("недопустимый размер чанка %d с рамкой %d", side, padding)
	}
	maxRunBytes := world.MaxRunStreamBytes(side, padding)

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания zstd кодера: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(maxRunBytes)))
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("ошибка создания zstd декодера: %w", err)
	}

	return &ChunkSerializer{
		compression: compression,
		maxRunBytes: maxRunBytes,
		encoder:     encoder,
		decoder:     decoder,
	}, nil
}

// MaxRunBytes предел длины распакованного потока серий
func (cs *ChunkSerializer) MaxRunBytes() int {
	return cs.maxRunBytes
}

// Compression способ сжатия при записи
func (cs *ChunkSerializer) Compression() Compression {
	return cs.compression
}

// EncodeChunk сериализует чанк в кадр
func (cs *ChunkSerializer) EncodeChunk(s *world.ChunkStore) []byte {
	runs := world.EncodeRuns(s)

	switch cs.compression {
	case CompressionZstd:
		out := make([]byte, 1, 1+len(runs)/2)
		out[0] = byte(CompressionZstd)
		return cs.encoder.EncodeAll(runs, out)
	default:
		out := make([]byte, 0, 1+len(runs))
		out = append(out, byte(CompressionNone))
		return append(out, runs...)
	}
}

// DecodeChunk восстанавливает чанк из кадра. Ошибки данных оставляют чанк пустым.
func (cs *ChunkSerializer) DecodeChunk(s *world.ChunkStore, frame []byte) error {
	if len(frame) == 0 {
		s.Reset()
		return fmt.Errorf("%w: %w", ErrEmptyFrame, world.ErrMalformedChunk)
	}

	payload := frame[1:]
	switch Compression(frame[0]) {
	case CompressionNone:
	case CompressionZstd:
		runs, err := cs.decoder.DecodeAll(payload, nil)
		if err != nil {
			s.Reset()
			return fmt.Errorf("ошибка распаковки zstd: %w: %w", err, world.ErrMalformedChunk)
		}
		payload = runs
	default:
		s.Reset()
		return fmt.Errorf("неизвестный байт сжатия %d: %w", frame[0], world.ErrMalformedChunk)
	}

	return world.DecodeRuns(s, payload)
}

// Close освобождает ресурсы zstd
func (cs *ChunkSerializer) Close() {
	cs.encoder.Close()
	cs.decoder.Close()
}
