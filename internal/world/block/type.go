package block

import (
	"fmt"

	"github.com/annel0/voxel-core/internal/vec"
)

// Kind закрытый набор видов блоков
type Kind uint8

const (
	KindAir    Kind = iota // пустота
	KindCube               // обычный куб, участвует в жадном мешинге
	KindCustom             // произвольная геометрия через внешний построитель
)

func (k Kind) String() string {
	switch k {
	case KindAir:
		return "air"
	case KindCube:
		return "cube"
	case KindCustom:
		return "custom"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind разбирает имя вида из конфига. Пустая строка означает куб.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "cube":
		return KindCube, nil
	case "custom":
		return KindCustom, nil
	case "air":
		return KindAir, nil
	default:
		return 0, fmt.Errorf("неизвестный вид блока %q", s)
	}
}

// Type запись таблицы типов блоков
type Type struct {
	ID          uint16
	Name        string
	Kind        Kind
	Solid       bool
	Transparent bool
	// ConnectSame позволяет нетвёрдым блокам одного типа скрывать общие грани (вода, стекло)
	ConnectSame bool
	Material    uint16
	// Geometry имя построителя для KindCustom
	Geometry string
	Textures [vec.DirectionCount]string
	Behavior Behavior
}

// Data возвращает упакованное значение ячейки для этого типа
func (t *Type) Data() BlockData {
	return NewBlockData(t.ID, t.Solid)
}

// IsCustom истинно для блоков с собственной геометрией
func (t *Type) IsCustom() bool {
	return t.Kind == KindCustom
}

// FaceCompatible решает, скрывается ли грань между t и соседом other.
// По умолчанию грань скрыта, если оба блока твёрдые и одного типа.
// Блоки с собственной геометрией никогда не сливаются.
func (t *Type) FaceCompatible(other *Type) bool {
	if t.Kind != KindCube || other.Kind != KindCube {
		return false
	}
	if t.ID != other.ID {
		return false
	}
	if t.Solid && other.Solid {
		return true
	}
	return t.ConnectSame
}

// OnCreate вызывает хук поведения
func (t *Type) OnCreate(pos vec.Vec3) {
	t.Behavior.OnCreate(pos)
}

// OnDestroy вызывает хук поведения
func (t *Type) OnDestroy(pos vec.Vec3) {
	t.Behavior.OnDestroy(pos)
}

// TextureConfig имена текстур граней. Более точное поле перекрывает общее:
// north > side > all.
type TextureConfig struct {
	All    string `yaml:"all" json:"all"`
	Top    string `yaml:"top" json:"top"`
	Bottom string `yaml:"bottom" json:"bottom"`
	Side   string `yaml:"side" json:"side"`
	North  string `yaml:"north" json:"north"`
	South  string `yaml:"south" json:"south"`
	East   string `yaml:"east" json:"east"`
	West   string `yaml:"west" json:"west"`
}

// resolve раскладывает текстуры по сторонам
func (tc TextureConfig) resolve() [vec.DirectionCount]string {
	pick := func(values ...string) string {
		for _, v := range values {
			if v != "" {
				return v
			}
		}
		return ""
	}

	var out [vec.DirectionCount]string
	out[vec.Up] = pick(tc.Top, tc.All)
	out[vec.Down] = pick(tc.Bottom, tc.All)
	out[vec.North] = pick(tc.North, tc.Side, tc.All)
	out[vec.South] = pick(tc.South, tc.Side, tc.All)
	out[vec.East] = pick(tc.East, tc.Side, tc.All)
	out[vec.West] = pick(tc.West, tc.Side, tc.All)
	return out
}

// Config описание типа блока в файле конфигурации
type Config struct {
	Name        string        `yaml:"name" json:"name"`
	Kind        string        `yaml:"kind" json:"kind"`
	Solid       *bool         `yaml:"solid" json:"solid"`
	Transparent bool          `yaml:"transparent" json:"transparent"`
	ConnectSame bool          `yaml:"connect_same" json:"connect_same"`
	Material    uint16        `yaml:"material" json:"material"`
	Geometry    string        `yaml:"geometry" json:"geometry"`
	Behavior    string        `yaml:"behavior" json:"behavior"`
	Textures    TextureConfig `yaml:"textures" json:"textures"`
}
