package mesh

// LightData затенение четырёх углов грани.
// Значения 0..3: сколько из соседей угла перекрывают свет.
type LightData struct {
	Sw, Nw, Ne, Se uint8
	// Rotated требует провести диагональ квада через nw-se
	Rotated bool
}

func vertexAO(side1, side2, corner bool) uint8 {
	if side1 && side2 {
		return 3
	}
	var ao uint8
	if side1 {
		ao++
	}
	if side2 {
		ao++
	}
	if corner {
		ao++
	}
	return ao
}

// NewLightData считает затенение по восьми соседям в плоскости грани.
// Стороны названы относительно осей грани: w/e вдоль u, s/n вдоль v.
func NewLightData(nw, n, ne, e, se, s, sw, w bool) LightData {
	l := LightData{
		Sw: vertexAO(s, w, sw),
		Nw: vertexAO(n, w, nw),
		Ne: vertexAO(n, e, ne),
		Se: vertexAO(s, e, se),
	}
	l.Rotated = int(l.Sw)+int(l.Ne) > int(l.Nw)+int(l.Se)
	return l
}

// pack упаковывает затенение в 9 бит маски
func (l LightData) pack() uint32 {
	v := uint32(l.Sw) | uint32(l.Nw)<<2 | uint32(l.Ne)<<4 | uint32(l.Se)<<6
	if l.Rotated {
		v |= 1 << 8
	}
	return v
}

func unpackLight(v uint32) LightData {
	return LightData{
		Sw:      uint8(v & 3),
		Nw:      uint8(v >> 2 & 3),
		Ne:      uint8(v >> 4 & 3),
		Se:      uint8(v >> 6 & 3),
		Rotated: v>>8&1 != 0,
	}
}

// shade переводит уровень затенения в яркость вершины.
// 0.33 на ступень: три ступени дают почти полную темноту.
func shade(ao uint8, strength float32) uint8 {
	v := (1 - float32(ao)*0.33*strength) * 255
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	return uint8(v)
}

// Shades яркости вершин в порядке sw, nw, ne, se
func (l LightData) Shades(strength float32) [4]uint8 {
	return [4]uint8{
		shade(l.Sw, strength),
		shade(l.Nw, strength),
		shade(l.Ne, strength),
		shade(l.Se, strength),
	}
}
