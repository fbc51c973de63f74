package block

import (
	"fmt"
)

// AirName имя зарезервированного типа воздуха
const AirName = "air"

// Registry таблица типов блоков. Индекс 0 всегда занят воздухом.
// После загрузки таблица только читается и безопасна для
// одновременного использования из воркеров.
type Registry struct {
	types  []*Type
	byName map[string]*Type
}

// NewRegistry создаёт таблицу, содержащую только воздух
func NewRegistry() *Registry {
	air := &Type{
		ID:          0,
		Name:        AirName,
		Kind:        KindAir,
		Transparent: true,
		Behavior:    noBehavior{},
	}
	return &Registry{
		types:  []*Type{air},
		byName: map[string]*Type{AirName: air},
	}
}

// Register добавляет тип блока и возвращает его запись.
// Повторная регистрация воздуха игнорируется.
func (r *Registry) Register(cfg Config) (*Type, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("у блока не задано имя")
	}
	if cfg.Name == AirName {
		return r.types[0], nil
	}
	if _, exists := r.byName[cfg.Name]; exists {
		return nil, fmt.Errorf("блок %q уже зарегистрирован", cfg.Name)
	}
	if len(r.types) > int(MaxTypeID) {
		return nil, fmt.Errorf("превышено максимальное число типов блоков (%d)", MaxTypeID)
	}

	kind, err := ParseKind(cfg.Kind)
	if err != nil {
		return nil, fmt.Errorf("блок %q: %w", cfg.Name, err)
	}
	if kind == KindAir {
		return nil, fmt.Errorf("блок %q: вид air зарезервирован", cfg.Name)
	}
	if kind == KindCustom && cfg.Geometry == "" {
		return nil, fmt.Errorf("блок %q: для custom нужно указать geometry", cfg.Name)
	}

	solid := kind == KindCube
	if cfg.Solid != nil {
		solid = *cfg.Solid
	}

	t := &Type{
		ID:          uint16(len(r.types)),
		Name:        cfg.Name,
		Kind:        kind,
		Solid:       solid,
		Transparent: cfg.Transparent,
		ConnectSame: cfg.ConnectSame,
		Material:    cfg.Material,
		Geometry:    cfg.Geometry,
		Textures:    cfg.Textures.resolve(),
		Behavior:    noBehavior{},
	}

	if cfg.Behavior != "" {
		factory, ok := lookupBehavior(cfg.Behavior)
		if !ok {
			return nil, fmt.Errorf("блок %q: неизвестное поведение %q", cfg.Name, cfg.Behavior)
		}
		t.Behavior = factory(t)
	}

	r.types = append(r.types, t)
	r.byName[t.Name] = t
	return t, nil
}

// SetBehavior заменяет поведение у уже зарегистрированного типа
func (r *Registry) SetBehavior(name string, b Behavior) error {
	t, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("блок %q не найден", name)
	}
	if b == nil {
		b = noBehavior{}
	}
	t.Behavior = b
	return nil
}

// Type возвращает запись по индексу. Неизвестный индекс - ошибка программиста.
func (r *Registry) Type(id uint16) *Type {
	if int(id) >= len(r.types) {
		panic(fmt.Sprintf("неизвестный индекс типа блока %d (всего %d)", id, len(r.types)))
	}
	return r.types[id]
}

// TypeOf возвращает запись для значения ячейки
func (r *Registry) TypeOf(d BlockData) *Type {
	return r.Type(d.Type())
}

// ByName ищет тип по имени
func (r *Registry) ByName(name string) (*Type, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// MustData возвращает упакованное значение для типа по имени или паникует
func (r *Registry) MustData(name string) BlockData {
	t, ok := r.byName[name]
	if !ok {
		panic(fmt.Sprintf("блок %q не найден", name))
	}
	return t.Data()
}

// Len количество типов, включая воздух
func (r *Registry) Len() int {
	return len(r.types)
}

// Types возвращает все типы в порядке индексов
func (r *Registry) Types() []*Type {
	out := make([]*Type, len(r.types))
	copy(out, r.types)
	return out
}
