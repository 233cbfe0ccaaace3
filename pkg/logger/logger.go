package logger

import "sync/atomic"

// LoggerInstance defines the interface for logging backends.
type LoggerInstance interface {
	Log(message string, keyvals ...any)
	Debug(message string, keyvals ...any)
	Info(message string, keyvals ...any)
	Warn(message string, keyvals ...any)
	Error(message string, keyvals ...any)
	Fatal(message string, keyvals ...any)
}

type level int

const (
	levelLog level = iota
	levelDebug
	levelInfo
	levelWarn
	levelError
	levelFatal
)

// Logger fans every call out to its backends.
type Logger struct {
	instances []LoggerInstance
}

var current atomic.Pointer[Logger]

// Init replaces the backends of the package-level functions. Calls made
// before Init are dropped.
func Init(instances ...LoggerInstance) {
	current.Store(&Logger{instances: instances})
}

func (l *Logger) dispatch(lvl level, message string, keyvals []any) {
	for _, instance := range l.instances {
		switch lvl {
		case levelDebug:
			instance.Debug(message, keyvals...)
		case levelInfo:
			instance.Info(message, keyvals...)
		case levelWarn:
			instance.Warn(message, keyvals...)
		case levelError:
			instance.Error(message, keyvals...)
		case levelFatal:
			instance.Fatal(message, keyvals...)
		default:
			instance.Log(message, keyvals...)
		}
	}
}

func emit(lvl level, message string, keyvals []any) {
	if l := current.Load(); l != nil {
		l.dispatch(lvl, message, keyvals)
	}
}

func Log(message string, keyvals ...any)   { emit(levelLog, message, keyvals) }
func Debug(message string, keyvals ...any) { emit(levelDebug, message, keyvals) }
func Info(message string, keyvals ...any)  { emit(levelInfo, message, keyvals) }
func Warn(message string, keyvals ...any)  { emit(levelWarn, message, keyvals) }
func Error(message string, keyvals ...any) { emit(levelError, message, keyvals) }

// Fatal logs at FATAL level. The console backend exits the process.
func Fatal(message string, keyvals ...any) { emit(levelFatal, message, keyvals) }
