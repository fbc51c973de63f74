package world

import "errors"

// ErrMalformedChunk повреждённые или несогласованные данные чанка.
// Чанк при этом сбрасывается в пустое состояние.
var ErrMalformedChunk = errors.New("повреждённые данные чанка")
