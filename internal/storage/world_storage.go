package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/annel0/voxel-core/internal/logging"
	"github.com/annel0/voxel-core/internal/vec"
)

// WorldStorage хранит кадры чанков мира в BadgerDB
type WorldStorage struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

var _ ChunkRepo = (*WorldStorage)(nil)

// NewWorldStorage открывает хранилище в <dataPath>/world
func NewWorldStorage(dataPath string) (*WorldStorage, error) {
	dbPath := filepath.Join(dataPath, "world")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	logging.GetStorageLogger().Info("Хранилище мира открыто: %s", dbPath)

	return &WorldStorage{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
	}, nil
}

// Path каталог базы
func (ws *WorldStorage) Path() string {
	return ws.dbPath
}

// Close закрывает хранилище данных
func (ws *WorldStorage) Close() error {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()

	if !ws.isReady {
		return nil
	}

	ws.isReady = false
	return ws.db.Close()
}

// begin проверяет готовность и контекст. Возвращает функцию снятия блокировки.
func (ws *WorldStorage) begin(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ws.mutex.RLock()
	if !ws.isReady {
		ws.mutex.RUnlock()
		return nil, ErrNotReady
	}
	return ws.mutex.RUnlock, nil
}

// Save сохраняет кадр чанка
func (ws *WorldStorage) Save(ctx context.Context, pos vec.Vec3, frame []byte) error {
	done, err := ws.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	err = ws.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(ChunkKey(pos)), frame)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения чанка %v в BadgerDB: %w", pos, err)
	}
	return nil
}

// Load загружает кадр чанка
func (ws *WorldStorage) Load(ctx context.Context, pos vec.Vec3) ([]byte, bool, error) {
	done, err := ws.begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer done()

	var data []byte
	err = ws.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(ChunkKey(pos)))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения чанка %v из BadgerDB: %w", pos, err)
	}
	return data, true, nil
}

// Delete удаляет чанк
func (ws *WorldStorage) Delete(ctx context.Context, pos vec.Vec3) error {
	done, err := ws.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	err = ws.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(ChunkKey(pos)))
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления чанка %v: %w", pos, err)
	}
	return nil
}

// BatchSave сохраняет несколько чанков через WriteBatch
func (ws *WorldStorage) BatchSave(ctx context.Context, frames map[vec.Vec3][]byte) error {
	done, err := ws.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	wb := ws.db.NewWriteBatch()
	for pos, frame := range frames {
		if err := wb.Set([]byte(ChunkKey(pos)), frame); err != nil {
			wb.Cancel()
			return fmt.Errorf("ошибка записи чанка %v в пакет: %w", pos, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("ошибка сохранения пакета чанков: %w", err)
	}
	return nil
}

// List перечисляет сохранённые чанки по префиксу ключа
func (ws *WorldStorage) List(ctx context.Context) ([]vec.Vec3, error) {
	done, err := ws.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	var out []vec.Vec3
	err = ws.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(chunkKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			pos, err := ParseChunkKey(string(it.Item().Key()))
			if err != nil {
				logging.GetStorageLogger().Warn("%v", err)
				continue
			}
			out = append(out, pos)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка обхода чанков: %w", err)
	}
	return out, nil
}
