package replication

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"google.golang.org/protobuf/encoding/protowire"
)

// Change одно изменение для пакетной отправки.
// Тип содержимого Data определяется полем Type.
type Change struct {
	Data      []byte    // сериализованное изменение
	Priority  int       // при переполнении буфера отбрасываются младшие
	Timestamp time.Time // время создания
	Source    string    // узел-источник
	Type      string    // тип события, например BlockChanged
}

// ErrMalformedBatch пакет не разбирается
var ErrMalformedBatch = errors.New("повреждённый пакет изменений")

// DeltaCompressor кодирует пакет изменений в компактный вид и обратно
type DeltaCompressor interface {
	Compress(changes []Change) ([]byte, error)
	Decompress(payload []byte) ([]Change, error)
	Name() string
}

// NewCompressor выбирает компрессор по имени из конфига
func NewCompressor(name string) (DeltaCompressor, error) {
	switch name {
	case "", "none":
		return NewPassthroughCompressor(), nil
	case "gzip":
		return NewGzipCompressor(), nil
	case "zstd":
		return NewZstdCompressor()
	default:
		return nil, fmt.Errorf("неизвестный компрессор пакетов %q", name)
	}
}

// Поля пакета в protobuf-представлении. Пакет - повторяющееся поле
// fieldChange, каждое изменение - вложенное сообщение.
const (
	fieldChange protowire.Number = 1

	fieldData      protowire.Number = 1
	fieldPriority  protowire.Number = 2
	fieldTimestamp protowire.Number = 3
	fieldSource    protowire.Number = 4
	fieldType      protowire.Number = 5
)

type passthroughCompressor struct{}

// NewPassthroughCompressor пакет без сжатия
func NewPassthroughCompressor() DeltaCompressor { return passthroughCompressor{} }

func (passthroughCompressor) Name() string { return "none" }

func (passthroughCompressor) Compress(changes []Change) ([]byte, error) {
	return marshalBatch(changes), nil
}

func (passthroughCompressor) Decompress(payload []byte) ([]Change, error) {
	return unmarshalBatch(payload)
}

func marshalBatch(changes []Change) []byte {
	var buf []byte
	var msg []byte
	for _, c := range changes {
		msg = msg[:0]
		msg = protowire.AppendTag(msg, fieldData, protowire.BytesType)
		msg = protowire.AppendBytes(msg, c.Data)
		msg = protowire.AppendTag(msg, fieldPriority, protowire.VarintType)
		msg = protowire.AppendVarint(msg, protowire.EncodeZigZag(int64(c.Priority)))
		if !c.Timestamp.IsZero() {
			msg = protowire.AppendTag(msg, fieldTimestamp, protowire.VarintType)
			msg = protowire.AppendVarint(msg, protowire.EncodeZigZag(c.Timestamp.UnixNano()))
		}
		if c.Source != "" {
			msg = protowire.AppendTag(msg, fieldSource, protowire.BytesType)
			msg = protowire.AppendString(msg, c.Source)
		}
		if c.Type != "" {
			msg = protowire.AppendTag(msg, fieldType, protowire.BytesType)
			msg = protowire.AppendString(msg, c.Type)
		}

		buf = protowire.AppendTag(buf, fieldChange, protowire.BytesType)
		buf = protowire.AppendBytes(buf, msg)
	}
	return buf
}

func unmarshalBatch(data []byte) ([]Change, error) {
	var res []Change
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %w", ErrMalformedBatch, protowire.ParseError(n))
		}
		data = data[n:]

		if num != fieldChange || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: %w", ErrMalformedBatch, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		msg, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %w", ErrMalformedBatch, protowire.ParseError(n))
		}
		data = data[n:]

		ch, err := unmarshalChange(msg)
		if err != nil {
			return nil, err
		}
		res = append(res, ch)
	}
	return res, nil
}

func unmarshalChange(msg []byte) (Change, error) {
	var ch Change
	for len(msg) > 0 {
		num, typ, n := protowire.ConsumeTag(msg)
		if n < 0 {
			return Change{}, fmt.Errorf("%w: %w", ErrMalformedBatch, protowire.ParseError(n))
		}
		msg = msg[n:]

		switch {
		case typ == protowire.VarintType && (num == fieldPriority || num == fieldTimestamp):
			v, n := protowire.ConsumeVarint(msg)
			if n < 0 {
				return Change{}, fmt.Errorf("%w: поле %d: %w", ErrMalformedBatch, num, protowire.ParseError(n))
			}
			msg = msg[n:]
			if num == fieldPriority {
				ch.Priority = int(protowire.DecodeZigZag(v))
			} else {
				ch.Timestamp = time.Unix(0, protowire.DecodeZigZag(v)).UTC()
			}
		case typ == protowire.BytesType && (num == fieldData || num == fieldSource || num == fieldType):
			v, n := protowire.ConsumeBytes(msg)
			if n < 0 {
				return Change{}, fmt.Errorf("%w: поле %d: %w", ErrMalformedBatch, num, protowire.ParseError(n))
			}
			msg = msg[n:]
			switch num {
			case fieldData:
				ch.Data = append([]byte(nil), v...)
			case fieldSource:
				ch.Source = string(v)
			default:
				ch.Type = string(v)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, msg)
			if n < 0 {
				return Change{}, fmt.Errorf("%w: %w", ErrMalformedBatch, protowire.ParseError(n))
			}
			msg = msg[n:]
		}
	}
	return ch, nil
}

// gzipCompressor применяет gzip к сериализованному пакету
type gzipCompressor struct{}

// NewGzipCompressor пакет со сжатием gzip
func NewGzipCompressor() DeltaCompressor { return gzipCompressor{} }

func (gzipCompressor) Name() string { return "gzip" }

func (gzipCompressor) Compress(changes []Change) ([]byte, error) {
	raw := marshalBatch(changes)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(payload []byte) ([]Change, error) {
	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBatch, err)
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBatch, err)
	}
	return unmarshalBatch(raw)
}

// zstdCompressor кодер и декодер безопасны для одновременного EncodeAll/DecodeAll
type zstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstdCompressor пакет со сжатием zstd
func NewZstdCompressor() (DeltaCompressor, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания zstd кодера: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("ошибка создания zstd декодера: %w", err)
	}
	return &zstdCompressor{encoder: encoder, decoder: decoder}, nil
}

func (z *zstdCompressor) Name() string { return "zstd" }

func (z *zstdCompressor) Compress(changes []Change) ([]byte, error) {
	return z.encoder.EncodeAll(marshalBatch(changes), nil), nil
}

func (z *zstdCompressor) Decompress(payload []byte) ([]Change, error) {
	raw, err := z.decoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBatch, err)
	}
	return unmarshalBatch(raw)
}
