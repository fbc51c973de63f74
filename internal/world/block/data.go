package block

// BlockData упакованное 16-битное значение ячейки чанка.
// Младшие 15 бит хранят индекс типа блока (0 - воздух),
// старший бит - признак твёрдости, выставляемый из таблицы типов.
type BlockData uint16

const (
	// TypeMask выделяет индекс типа
	TypeMask BlockData = 0x7FFF
	// SolidFlag признак твёрдого блока
	SolidFlag BlockData = 0x8000

	// MaxTypeID максимально допустимый индекс типа
	MaxTypeID = uint16(TypeMask)
)

// Air пустая ячейка
const Air BlockData = 0

// NewBlockData упаковывает индекс типа и признак твёрдости
func NewBlockData(typeID uint16, solid bool) BlockData {
	d := BlockData(typeID) & TypeMask
	if solid {
		d |= SolidFlag
	}
	return d
}

// Type возвращает индекс типа блока
func (d BlockData) Type() uint16 {
	return uint16(d & TypeMask)
}

// Solid возвращает признак твёрдости
func (d BlockData) Solid() bool {
	return d&SolidFlag != 0
}

// IsAir истинно для пустой ячейки
func (d BlockData) IsAir() bool {
	return d&TypeMask == 0
}
