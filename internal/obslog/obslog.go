// Package obslog provides structured logging for cs2obs using zap.
package obslog

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ashgrove/cs2obs/internal/addr"
)

// Logger wraps zap.Logger. It carries no state of its own beyond the
// embedded zap.Logger; there is no stub-trace callback plumbing here,
// only structured fields over known-shape domain data.
type Logger struct {
	*zap.Logger
}

var (
	// L is the global logger instance.
	L    *Logger
	once sync.Once
)

// Init initializes the global logger with the given configuration.
// Safe to call multiple times; only the first call takes effect.
func Init(debug bool) {
	once.Do(func() {
		L = New(debug)
	})
}

// New creates a new Logger instance. debug selects a development config
// (colorized level, debug threshold); otherwise a production config at
// warn level is used.
func New(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}

	// Short "ts" key with ISO8601 timestamps, in both configs
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fallback to no-op if config fails
		logger = zap.NewNop()
	}

	return &Logger{Logger: logger}
}

// NewNop creates a no-op logger for testing.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// WithComponent returns a logger with the component field preset, e.g.
// "poller", "transport", "offsets".
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String("component", component))}
}

// Hex formats a uint64 as a 0x-prefixed hex string for logging.
func Hex(v uint64) string {
	return "0x" + hexString(v)
}

func hexString(v uint64) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	buf := make([]byte, 16)
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf[i:])
}

// Field helpers for the values that recur across offset resolution and
// the observation loop.

// Address creates a hex-formatted address field, e.g. a resolved
// interface pointer or a module base.
func Address(key string, a addr.Address) zap.Field {
	return zap.String(key, Hex(a.U64()))
}

// Offset creates a hex-formatted displacement field, e.g. a netvar
// offset or a vtable slot index.
func Offset(key string, v uint64) zap.Field {
	return zap.String(key, Hex(v))
}

// Module creates a library/module name field.
func Module(name string) zap.Field {
	return zap.String("module", name)
}

// Interface creates an interface name field.
func Interface(name string) zap.Field {
	return zap.String("interface", name)
}

// PlayerCount creates a field for the size of a published batch.
func PlayerCount(n int) zap.Field {
	return zap.Int("player_count", n)
}

// TickDuration creates a field for how long one poll tick took.
func TickDuration(d time.Duration) zap.Field {
	return zap.Duration("tick_duration", d)
}

// PID creates a process ID field.
func PID(pid int) zap.Field {
	return zap.Int("pid", pid)
}
