package logging

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/annel0/voxel-core/internal/vec"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает уровень из конфига, по умолчанию INFO
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "trace":
		return TRACE
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

// zapLevel TRACE пишется как debug с отдельным полем
func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case TRACE, DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Options настройки вывода
type Options struct {
	Level   LogLevel
	Dir     string // каталог файлов логов, пусто - только консоль
	JSON    bool   // JSON вместо текстового формата в файле
	Console bool

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DefaultOptions консоль, уровень INFO
func DefaultOptions() Options {
	return Options{
		Level:      INFO,
		Console:    true,
		MaxSizeMB:  50,
		MaxBackups: 3,
		MaxAgeDays: 7,
	}
}

// Logger логгер компонента поверх zap
type Logger struct {
	component string
	sugar     *zap.SugaredLogger
	level     zap.AtomicLevel
	trace     atomic.Bool
	file      *lumberjack.Logger
}

// NewLogger создаёт логгер компонента. Файл пишется в <dir>/<component>.log
// с ротацией.
func NewLogger(component string, opts Options) (*Logger, error) {
	level := zap.NewAtomicLevelAt(opts.Level.zapLevel())

	var cores []zapcore.Core
	if opts.Console {
		enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			TimeKey:          "time",
			LevelKey:         "level",
			NameKey:          "component",
			MessageKey:       "msg",
			EncodeTime:       zapcore.TimeEncoderOfLayout("15:04:05"),
			EncodeLevel:      zapcore.CapitalColorLevelEncoder,
			EncodeName:       zapcore.FullNameEncoder,
			ConsoleSeparator: " ",
		})
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), level))
	}

	var file *lumberjack.Logger
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("ошибка создания директории логов %s: %w", opts.Dir, err)
		}
		file = &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, component+".log"),
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			LocalTime:  true,
		}

		encCfg := zapcore.EncoderConfig{
			TimeKey:          "time",
			LevelKey:         "level",
			NameKey:          "component",
			MessageKey:       "msg",
			EncodeTime:       zapcore.ISO8601TimeEncoder,
			EncodeLevel:      zapcore.CapitalLevelEncoder,
			EncodeName:       zapcore.FullNameEncoder,
			ConsoleSeparator: " ",
		}
		var enc zapcore.Encoder
		if opts.JSON {
			enc = zapcore.NewJSONEncoder(encCfg)
		} else {
			enc = zapcore.NewConsoleEncoder(encCfg)
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(file), level))
	}

	l := newWithCore(component, zapcore.NewTee(cores...), level)
	l.trace.Store(opts.Level == TRACE)
	l.file = file
	return l, nil
}

func newWithCore(component string, core zapcore.Core, level zap.AtomicLevel) *Logger {
	return &Logger{
		component: component,
		sugar:     zap.New(core).Named(component).Sugar(),
		level:     level,
	}
}

// Component имя компонента
func (l *Logger) Component() string { return l.component }

// Zap структурный логгер для кода, которому нужны поля
func (l *Logger) Zap() *zap.Logger { return l.sugar.Desugar() }

// SetLevel меняет уровень на лету
func (l *Logger) SetLevel(level LogLevel) {
	l.level.SetLevel(level.zapLevel())
	l.trace.Store(level == TRACE)
}

// Trace пишется только при уровне TRACE
func (l *Logger) Trace(format string, args ...interface{}) {
	if l.trace.Load() {
		l.sugar.Debugw(fmt.Sprintf(format, args...), "trace", true)
	}
}

func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// Sync сбрасывает буферы
func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}

// Close сбрасывает буферы и закрывает файл
func (l *Logger) Close() error {
	l.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

var (
	defaultMu      sync.RWMutex
	defaultLogger  = mustConsoleLogger("default")
	defaultOptions = DefaultOptions()
)

func mustConsoleLogger(component string) *Logger {
	l, err := NewLogger(component, DefaultOptions())
	if err != nil {
		panic(err)
	}
	return l
}

// Configure задаёт настройки для InitDefaultLogger и менеджера компонентов
func Configure(opts Options) {
	defaultMu.Lock()
	defaultOptions = opts
	defaultMu.Unlock()
}

func currentOptions() Options {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultOptions
}

// InitDefaultLogger создаёт глобальный логгер для пакетных функций
func InitDefaultLogger(component string) error {
	l, err := NewLogger(component, currentOptions())
	if err != nil {
		return fmt.Errorf("ошибка инициализации логгера: %w", err)
	}

	defaultMu.Lock()
	old := defaultLogger
	defaultLogger = l
	defaultMu.Unlock()

	_ = old.Close()
	return nil
}

// SetDefaultLogger подменяет глобальный логгер, возвращает прежний
func SetDefaultLogger(l *Logger) *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	old := defaultLogger
	defaultLogger = l
	return old
}

// CloseDefaultLogger закрывает глобальный логгер и все логгеры компонентов
func CloseDefaultLogger() {
	_ = GetLoggerManager().CloseAll()

	defaultMu.Lock()
	l := defaultLogger
	defaultLogger = mustConsoleLogger("default")
	defaultMu.Unlock()

	_ = l.Close()
}

func current() *Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// Trace логирует сообщение уровня TRACE
func Trace(format string, args ...interface{}) { current().Trace(format, args...) }

// Debug логирует сообщение уровня DEBUG
func Debug(format string, args ...interface{}) { current().Debug(format, args...) }

// Info логирует сообщение уровня INFO
func Info(format string, args ...interface{}) { current().Info(format, args...) }

// Warn логирует сообщение уровня WARN
func Warn(format string, args ...interface{}) { current().Warn(format, args...) }

// Error логирует сообщение уровня ERROR
func Error(format string, args ...interface{}) { current().Error(format, args...) }

// HexDump создает hex дамп данных
func HexDump(data []byte) string {
	if len(data) == 0 {
		return "No data"
	}

	// Ограничиваем размер дампа до 256 байт
	size := len(data)
	if size > 256 {
		size = 256
	}

	return hex.Dump(data[:size])
}

// LogDecodeError логирует ошибку разбора данных чанка с дампом начала буфера
func LogDecodeError(source string, pos vec.Vec3, err error, data []byte) {
	Error("Ошибка разбора чанка %v из %s: %v", pos, source, err)
	if len(data) > 0 {
		Debug("Данные (%d байт):\n%s", len(data), HexDump(data))
	}
}

// LogChunkRequest логирует запрос чанка
func LogChunkRequest(source string, pos vec.Vec3, size int) {
	Trace("Запрос чанка %v от %s: %d байт", pos, source, size)
}
