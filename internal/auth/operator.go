package auth

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Operator учётная запись оператора REST API.
// IsAdmin разрешает изменяющие маршруты (правка блоков, перестроение мешей).
type Operator struct {
	ID           uint64    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"` // bcrypt (60 символов)
	CreatedAt    time.Time `json:"created_at"`
	LastLogin    time.Time `json:"last_login"`
	IsAdmin      bool      `json:"is_admin"`
}

// OperatorConfig запись оператора в конфиге. Если PasswordHash пуст,
// Password хешируется при запуске.
type OperatorConfig struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
	Admin        bool   `yaml:"admin"`
}

// OperatorRepository хранилище операторов.
type OperatorRepository interface {
	// GetByUsername ищет оператора без учёта регистра. ErrOperatorNotFound, если нет.
	GetByUsername(username string) (*Operator, error)
	GetByID(id uint64) (*Operator, error)
	// Create добавляет оператора; passwordHash уже захеширован bcrypt.
	Create(username, passwordHash string, isAdmin bool) (*Operator, error)
	// ValidateCredentials проверяет пароль и отмечает время входа
	ValidateCredentials(username, password string) (*Operator, error)
}

var (
	ErrOperatorNotFound  = errors.New("оператор не найден")
	ErrOperatorExists    = errors.New("оператор уже существует")
	ErrInvalidCredential = errors.New("неверное имя или пароль")
)

// PasswordCost стоимость bcrypt для паролей операторов из конфига
const PasswordCost = bcrypt.DefaultCost

// HashPassword хеширует пароль оператора для PasswordHash
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword сверяет пароль с PasswordHash оператора.
// Испорченный хеш считается несовпадением.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
