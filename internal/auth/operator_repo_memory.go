package auth

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryOperatorRepo потокобезопасное хранилище операторов в памяти.
// Операторы задаются конфигом при запуске, ID выдаются с 1.
type MemoryOperatorRepo struct {
	mu     sync.RWMutex
	byName map[string]*Operator // ключ - имя в нижнем регистре
	byID   map[uint64]*Operator
	nextID uint64
	now    func() time.Time
}

var _ OperatorRepository = (*MemoryOperatorRepo)(nil)

// NewMemoryOperatorRepo создаёт хранилище и заносит операторов из конфига
func NewMemoryOperatorRepo(operators []OperatorConfig) (*MemoryOperatorRepo, error) {
	repo := &MemoryOperatorRepo{
		byName: make(map[string]*Operator),
		byID:   make(map[uint64]*Operator),
		nextID: 1,
		now:    time.Now,
	}

	for _, oc := range operators {
		hash := oc.PasswordHash
		if hash == "" {
			if oc.Password == "" {
				return nil, fmt.Errorf("у оператора %q не задан пароль", oc.Username)
			}
			var err error
			if hash, err = HashPassword(oc.Password); err != nil {
				return nil, fmt.Errorf("хеширование пароля %q: %w", oc.Username, err)
			}
		}
		if _, err := repo.Create(oc.Username, hash, oc.Admin); err != nil {
			return nil, fmt.Errorf("оператор %q: %w", oc.Username, err)
		}
	}
	return repo, nil
}

// GetByUsername ищет оператора без учёта регистра
func (r *MemoryOperatorRepo) GetByUsername(username string) (*Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.byName[normalize(username)]
	if !ok {
		return nil, ErrOperatorNotFound
	}
	cp := *op
	return &cp, nil
}

// GetByID ищет оператора по ID
func (r *MemoryOperatorRepo) GetByID(id uint64) (*Operator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.byID[id]
	if !ok {
		return nil, ErrOperatorNotFound
	}
	cp := *op
	return &cp, nil
}

// Create добавляет оператора, если имя свободно
func (r *MemoryOperatorRepo) Create(username, passwordHash string, isAdmin bool) (*Operator, error) {
	if strings.TrimSpace(username) == "" {
		return nil, fmt.Errorf("пустое имя оператора")
	}
	key := normalize(username)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[key]; exists {
		return nil, ErrOperatorExists
	}

	op := &Operator{
		ID:           r.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    r.now(),
		IsAdmin:      isAdmin,
	}
	r.nextID++
	r.byName[key] = op
	r.byID[op.ID] = op
	cp := *op
	return &cp, nil
}

// ValidateCredentials проверяет пароль. Неизвестное имя и неверный пароль
// неразличимы для вызывающего.
func (r *MemoryOperatorRepo) ValidateCredentials(username, password string) (*Operator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.byName[normalize(username)]
	if !ok || !CheckPassword(op.PasswordHash, password) {
		return nil, ErrInvalidCredential
	}
	op.LastLogin = r.now()
	cp := *op
	return &cp, nil
}

func normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
