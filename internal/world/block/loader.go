package block

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileConfig корень файла с описаниями блоков
type fileConfig struct {
	Blocks []Config `yaml:"blocks" json:"blocks"`
}

// ParseConfigs разбирает YAML или JSON с описаниями блоков
func ParseConfigs(data []byte) ([]Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфига блоков: %w", err)
	}
	return fc.Blocks, nil
}

// LoadConfigs читает все *.yaml, *.yml и *.json из каталога в алфавитном порядке файлов
func LoadConfigs(dir string) ([]Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения каталога блоков %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var all []Config
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения %s: %w", name, err)
		}
		cfgs, err := ParseConfigs(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		all = append(all, cfgs...)
	}
	return all, nil
}

// LoadRegistry строит таблицу типов из каталога конфигов
func LoadRegistry(dir string) (*Registry, error) {
	cfgs, err := LoadConfigs(dir)
	if err != nil {
		return nil, err
	}
	return NewRegistryFromConfigs(cfgs)
}

// NewRegistryFromConfigs строит таблицу из готового списка описаний
func NewRegistryFromConfigs(cfgs []Config) (*Registry, error) {
	r := NewRegistry()
	for _, cfg := range cfgs {
		if _, err := r.Register(cfg); err != nil {
			return nil, err
		}
	}
	return r, nil
}
