package log

import (
	"io/ioutil"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
)

type Level uint32

const (
	PanicLevel Level = iota
	FatalLevel
	ErrorLevel
	WarnLevel
	InfoLevel
	DebugLevel
)

func (level Level) String() string {
	return log.Level(level).String()
}

type Logger interface {
	log.FieldLogger
	WithContentID(id string) *log.Entry
	WithBoundary(boundary string) *log.Entry
	Reopen() error
	GetLogDest() string
	SetLevel(level string)
	GetLevel() string
	IsDebug() bool
	AddHook(h log.Hook)
}

// HookedLogger implements the Logger interface.
// It's a logrus logger wrapper that contains an instance of our LoggerHook
type HookedLogger struct {

	// satisfy the log.FieldLogger interface
	*log.Logger

	h LoggerHook

	// destination, file name or "stderr", "stdout" or "off"
	dest string
}

type loggerKey struct {
	dest, level string
}

type loggerCache map[loggerKey]Logger

// loggers store the cached loggers created by GetLogger
var loggers struct {
	cache loggerCache
	// mutex guards the cache
	sync.Mutex
}

// GetLogger returns a struct that implements Logger (i.e HookedLogger) with a custom hook.
// It may be new or already created, (ie. singleton factory pattern)
// The hook has been initialized with dest
// dest can can be a path to a file, or the following string values:
// "off" - disable any log output
// "stdout" - write to standard output
// "stderr" - write to standard error
// If the file doesn't exists, a new file will be created. Otherwise it will be appended
// Each Logger returned is cached on dest and level, subsequent calls get the cached logger
// If there was an error, the log will revert to stderr instead of using a custom hook
func GetLogger(dest string, level string) (Logger, error) {
	loggers.Lock()
	defer loggers.Unlock()
	key := loggerKey{dest, level}
	if loggers.cache == nil {
		loggers.cache = make(loggerCache, 1)
	} else {
		if l, ok := loggers.cache[key]; ok {
			// return the one we found in the cache
			return l, nil
		}
	}
	logrus := log.New()
	// we'll use the hook to output instead
	logrus.Out = ioutil.Discard
	// default level
	logrus.Level = log.InfoLevel

	l := &HookedLogger{dest: dest}
	l.Logger = logrus
	l.SetLevel(level)

	// cache it
	loggers.cache[key] = l

	// setup the hook
	h, err := NewLogrusHook(dest)
	if err != nil {
		// revert back to stderr
		logrus.Out = os.Stderr
		return l, err
	}
	logrus.Hooks.Add(h)
	l.h = h

	return l, nil
}

// AddHook adds a new logrus hook
func (l *HookedLogger) AddHook(h log.Hook) {
	l.Logger.AddHook(h)
}

func (l *HookedLogger) IsDebug() bool {
	return l.GetLevel() == log.DebugLevel.String()
}

// SetLevel sets a log level, one of the LogLevels
func (l *HookedLogger) SetLevel(level string) {
	var logLevel log.Level
	var err error
	if logLevel, err = log.ParseLevel(level); err != nil {
		return
	}
	l.Logger.SetLevel(logLevel)
}

// GetLevel gets the current log level
func (l *HookedLogger) GetLevel() string {
	return l.Logger.GetLevel().String()
}

// Reopen closes the log file and re-opens it
func (l *HookedLogger) Reopen() error {
	if l.h == nil {
		return nil
	}
	return l.h.Reopen()
}

// GetLogDest gets the file name
func (l *HookedLogger) GetLogDest() string {
	if l.h == nil {
		return l.dest
	}
	return l.h.GetLogDest()
}

// WithContentID extends logrus to be able to log with the Content-ID of an attachment
func (l *HookedLogger) WithContentID(id string) *log.Entry {
	if id == "" {
		id = "unknown"
	}
	return l.WithField("content_id", id)
}

// WithBoundary tags the entry with the MIME boundary of the message being processed
func (l *HookedLogger) WithBoundary(boundary string) *log.Entry {
	return l.WithField("boundary", boundary)
}

// Default returns a cached logger writing to stderr at info level.
// Components that were not given a Logger fall back to it.
func Default() Logger {
	l, _ := GetLogger(OutputStderr.String(), InfoLevel.String())
	return l
}
