package vec

// Direction одна из шести осевых сторон блока или чанка
type Direction uint8

const (
	Up Direction = iota
	Down
	North // +Z
	South // -Z
	East  // +X
	West  // -X

	DirectionCount // всегда последний
)

// Side битовая маска набора сторон
type Side uint8

const (
	SideNone  Side = 0
	SideUp    Side = 1 << Up
	SideDown  Side = 1 << Down
	SideNorth Side = 1 << North
	SideSouth Side = 1 << South
	SideEast  Side = 1 << East
	SideWest  Side = 1 << West
	SideAll   Side = SideUp | SideDown | SideNorth | SideSouth | SideEast | SideWest
)

var directionOffsets = [DirectionCount]Vec3{
	Up:    {Y: 1},
	Down:  {Y: -1},
	North: {Z: 1},
	South: {Z: -1},
	East:  {X: 1},
	West:  {X: -1},
}

var directionNames = [DirectionCount]string{"up", "down", "north", "south", "east", "west"}

// Directions все стороны в каноническом порядке
var Directions = [DirectionCount]Direction{Up, Down, North, South, East, West}

// Offset возвращает единичный вектор стороны
func (d Direction) Offset() Vec3 {
	return directionOffsets[d]
}

// Opposite возвращает противоположную сторону
func (d Direction) Opposite() Direction {
	return d ^ 1
}

// Axis возвращает номер оси нормали: 0 - X, 1 - Y, 2 - Z
func (d Direction) Axis() int {
	switch d {
	case Up, Down:
		return 1
	case North, South:
		return 2
	default:
		return 0
	}
}

// Positive истинно для сторон, смотрящих в положительном направлении оси
func (d Direction) Positive() bool {
	return d == Up || d == North || d == East
}

// Side возвращает маску для одной стороны
func (d Direction) Side() Side {
	return Side(1) << d
}

func (d Direction) String() string {
	if d >= DirectionCount {
		return "unknown"
	}
	return directionNames[d]
}

// Has проверяет наличие стороны в маске
func (s Side) Has(d Direction) bool {
	return s&d.Side() != 0
}

// ParseSides разбирает список имён сторон ("up", "east", "all") в маску.
// Неизвестные имена возвращаются вторым значением.
func ParseSides(names []string) (Side, []string) {
	var (
		mask    Side
		unknown []string
	)
	for _, name := range names {
		if name == "all" {
			mask |= SideAll
			continue
		}
		found := false
		for d, n := range directionNames {
			if n == name {
				mask |= Direction(d).Side()
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, name)
		}
	}
	return mask, unknown
}
