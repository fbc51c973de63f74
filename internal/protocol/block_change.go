package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/annel0/voxel-core/internal/vec"
	"github.com/annel0/voxel-core/internal/world/block"
)

// EventBlockChanged тип события шины для изменения блока
const EventBlockChanged = "BlockChanged"

// Номера полей BlockChange в protobuf-представлении
const (
	fieldChunkX protowire.Number = 1
	fieldChunkY protowire.Number = 2
	fieldChunkZ protowire.Number = 3
	fieldLocalX protowire.Number = 4
	fieldLocalY protowire.Number = 5
	fieldLocalZ protowire.Number = 6
	fieldOld    protowire.Number = 7
	fieldNew    protowire.Number = 8
)

// BlockChange изменение одной ячейки для репликации
type BlockChange struct {
	Chunk vec.Vec3
	Local vec.Vec3
	Old   block.BlockData
	New   block.BlockData
}

// MarshalBlockChange кодирует изменение в формате protobuf.
// Координаты чанка - sint64 (zigzag), локальные и значения - varint.
func MarshalBlockChange(bc BlockChange) []byte {
	b := make([]byte, 0, 24)
	b = appendSint(b, fieldChunkX, bc.Chunk.X)
	b = appendSint(b, fieldChunkY, bc.Chunk.Y)
	b = appendSint(b, fieldChunkZ, bc.Chunk.Z)
	b = appendUint(b, fieldLocalX, uint64(bc.Local.X))
	b = appendUint(b, fieldLocalY, uint64(bc.Local.Y))
	b = appendUint(b, fieldLocalZ, uint64(bc.Local.Z))
	b = appendUint(b, fieldOld, uint64(bc.Old))
	b = appendUint(b, fieldNew, uint64(bc.New))
	return b
}

func appendSint(b []byte, num protowire.Number, v int) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(int64(v)))
}

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// UnmarshalBlockChange декодирует изменение. Неизвестные поля пропускаются.
func UnmarshalBlockChange(data []byte) (BlockChange, error) {
	var bc BlockChange
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return BlockChange{}, fmt.Errorf("ошибка чтения тега: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if typ != protowire.VarintType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return BlockChange{}, fmt.Errorf("ошибка пропуска поля %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
			continue
		}

		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return BlockChange{}, fmt.Errorf("ошибка чтения поля %d: %w", num, protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldChunkX:
			bc.Chunk.X = int(protowire.DecodeZigZag(v))
		case fieldChunkY:
			bc.Chunk.Y = int(protowire.DecodeZigZag(v))
		case fieldChunkZ:
			bc.Chunk.Z = int(protowire.DecodeZigZag(v))
		case fieldLocalX:
			bc.Local.X = int(v)
		case fieldLocalY:
			bc.Local.Y = int(v)
		case fieldLocalZ:
			bc.Local.Z = int(v)
		case fieldOld:
			bc.Old = block.BlockData(v)
		case fieldNew:
			bc.New = block.BlockData(v)
		}
	}
	return bc, nil
}
