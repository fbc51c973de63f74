package mesh

import "github.com/annel0/voxel-core/internal/vec"

// Config настройки построения геометрии
type Config struct {
	// AddAmbientOcclusion включает затенение вершин по соседям
	AddAmbientOcclusion bool
	// AOStrength сила затенения, 1 - полная
	AOStrength float32
	// FacePaddingInset смещение вершин наружу против щелей между чанками
	FacePaddingInset float32
	// DrawWorldEdges стороны, на которых грани рисуются и без соседнего чанка
	DrawWorldEdges vec.Side
	// Faces стороны, грани которых вообще строятся
	Faces vec.Side
	// Scale размер блока в единицах мира
	Scale float32
}

// DefaultConfig настройки по умолчанию
func DefaultConfig() Config {
	return Config{
		AddAmbientOcclusion: true,
		AOStrength:          1,
		FacePaddingInset:    0,
		DrawWorldEdges:      vec.SideNone,
		Faces:               vec.SideAll,
		Scale:               1,
	}
}
