package engine

import "errors"

var (
	// ErrClosed планировщик остановлен
	ErrClosed = errors.New("планировщик остановлен")
	// ErrNotLoaded чанк не загружен
	ErrNotLoaded = errors.New("чанк не загружен")
	// ErrNotReady чанк в состоянии, не допускающем операцию
	ErrNotReady = errors.New("чанк не готов")
)
