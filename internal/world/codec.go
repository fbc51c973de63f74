package world

import (
	"encoding/binary"
	"fmt"

	"github.com/annel0/voxel-core/internal/world/block"
)

const (
	runHeaderSize = 4
	runRecordSize = 6
)

// EmptyChunkBytes поток для чанка, состоящего из воздуха
var EmptyChunkBytes = []byte{0, 0, 0, 0}

// MaxRunStreamBytes наибольшая длина потока серий для чанка side с рамкой
// padding: заголовок и по записи на каждую ячейку.
func MaxRunStreamBytes(side, padding int) int {
	p := side + 2*padding
	return runHeaderSize + runRecordSize*p*p*p
}

// EncodeRuns сериализует чанк в поток серий: int32 число непустых ячеек,
// затем записи {длина uint32, значение uint16} по всем ячейкам с рамкой
// в порядке y, z, x. Пустой чанк - только заголовок 0.
func EncodeRuns(s *ChunkStore) []byte {
	count := s.CalculateEmptyCount()

	buf := make([]byte, runHeaderSize, runHeaderSize+64*runRecordSize)
	binary.LittleEndian.PutUint32(buf, uint32(int32(count)))
	if count == 0 {
		return buf
	}

	lo, hi := -s.pad, s.side+s.pad
	var (
		current block.BlockData
		run     uint32
	)
	for y := lo; y < hi; y++ {
		for z := lo; z < hi; z++ {
			index := s.Index(lo, y, z)
			for x := lo; x < hi; x++ {
				data := s.blocks[index]
				index++
				if run > 0 && data == current {
					run++
					continue
				}
				if run > 0 {
					buf = appendRun(buf, run, current)
				}
				current = data
				run = 1
			}
		}
	}
	return appendRun(buf, run, current)
}

func appendRun(buf []byte, run uint32, data block.BlockData) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, run)
	return binary.LittleEndian.AppendUint16(buf, uint16(data))
}

// DecodeRuns восстанавливает чанк из потока серий. При любой ошибке
// чанк остаётся пустым, а ошибка оборачивает ErrMalformedChunk.
func DecodeRuns(s *ChunkStore, data []byte) error {
	if err := decodeRuns(s, data); err != nil {
		s.Reset()
		return err
	}
	return nil
}

func decodeRuns(s *ChunkStore, data []byte) error {
	s.Reset()

	if len(data) < runHeaderSize {
		return fmt.Errorf("заголовок короче %d байт: %w", runHeaderSize, ErrMalformedChunk)
	}
	declared := int32(binary.LittleEndian.Uint32(data))
	if declared < 0 {
		return fmt.Errorf("отрицательное число непустых ячеек %d: %w", declared, ErrMalformedChunk)
	}

	rest := data[runHeaderSize:]
	if declared == 0 {
		if len(rest) != 0 {
			return fmt.Errorf("лишние %d байт после пустого заголовка: %w", len(rest), ErrMalformedChunk)
		}
		s.nonEmpty = 0
		return nil
	}
	if len(rest)%runRecordSize != 0 {
		return fmt.Errorf("обрезанная запись серии (%d байт): %w", len(rest), ErrMalformedChunk)
	}

	lo, hi := -s.pad, s.side+s.pad
	total := s.padded * s.padded * s.padded
	x, y, z := lo, lo, lo
	written := 0
	types := 0
	if s.registry != nil {
		types = s.registry.Len()
	}

	for off := 0; off < len(rest); off += runRecordSize {
		run := int(binary.LittleEndian.Uint32(rest[off:]))
		value := block.BlockData(binary.LittleEndian.Uint16(rest[off+4:]))

		if run == 0 {
			return fmt.Errorf("серия нулевой длины: %w", ErrMalformedChunk)
		}
		if run > total-written {
			return fmt.Errorf("серии длиннее чанка (%d > %d): %w", written+run, total, ErrMalformedChunk)
		}
		if types > 0 && int(value.Type()) >= types {
			return fmt.Errorf("неизвестный тип блока %d: %w", value.Type(), ErrMalformedChunk)
		}

		for i := 0; i < run; i++ {
			s.blocks[s.Index(x, y, z)] = value
			x++
			if x == hi {
				x = lo
				z++
				if z == hi {
					z = lo
					y++
				}
			}
		}
		written += run
	}

	if written != total {
		return fmt.Errorf("серии покрывают %d ячеек из %d: %w", written, total, ErrMalformedChunk)
	}

	if got := s.CalculateEmptyCount(); got != int(declared) {
		return fmt.Errorf("заявлено %d непустых ячеек, найдено %d: %w", declared, got, ErrMalformedChunk)
	}
	return nil
}
