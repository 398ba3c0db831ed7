package log

import (
	"bufio"
	"io"
	"io/ioutil"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
)

// hookMu ensures all io operations are synced. Always on exported functions
var hookMu sync.Mutex

// LoggerHook extends the log.Hook interface by adding Reopen() and GetLogDest()
type LoggerHook interface {
	log.Hook
	Reopen() error
	GetLogDest() string
}

type LogrusHook struct {
	w io.Writer
	// file descriptor, can be re-opened
	fd *os.File
	// filename to the file descriptor
	fname string
	// plain text formatter used when writing to a file
	plainTxtFormatter *log.TextFormatter
}

// NewLogrusHook creates a new hook. dest can be a file name or one of the following strings:
// "stderr" - log to stderr
// "stdout" - log to stdout
// "off" - no log, lines will be written to ioutil.Discard
func NewLogrusHook(dest string) (LoggerHook, error) {
	hookMu.Lock()
	defer hookMu.Unlock()
	hook := LogrusHook{fname: dest}
	err := hook.setup(dest)
	return &hook, err
}

type OutputOption int

const (
	OutputStderr OutputOption = 1 + iota
	OutputStdout
	OutputOff
	OutputNull
	OutputFile
)

var outputOptions = [...]string{
	"stderr",
	"stdout",
	"off",
	"",
	"file",
}

func (o OutputOption) String() string {
	return outputOptions[o-1]
}

func parseOutputOption(str string) OutputOption {
	switch str {
	case "stderr":
		return OutputStderr
	case "stdout":
		return OutputStdout
	case "off":
		return OutputOff
	case "":
		return OutputNull
	}
	return OutputFile
}

// setup sets the hook's writer w and file descriptor fd
// assumes the hook.fd is closed and nil
func (hook *LogrusHook) setup(dest string) error {
	switch parseOutputOption(dest) {
	case OutputNull, OutputStderr:
		hook.w = os.Stderr
	case OutputStdout:
		hook.w = os.Stdout
	case OutputOff:
		hook.w = ioutil.Discard
	default:
		if err := hook.open(dest); err != nil {
			return err
		}
		// no colors when writing to a file
		hook.plainTxtFormatter = &log.TextFormatter{DisableColors: true, FullTimestamp: true}
	}
	return nil
}

// open opens dest for appending, creating it when it doesn't exist.
// Defaults to os.Stderr if it can't open dest
func (hook *LogrusHook) open(dest string) error {
	fd, err := os.OpenFile(dest, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		hook.w = os.Stderr
		hook.fd = nil
		return err
	}
	hook.w = bufio.NewWriter(fd)
	hook.fd = fd
	return nil
}

// Fire implements the logrus Hook interface
func (hook *LogrusHook) Fire(entry *log.Entry) error {
	hookMu.Lock()
	defer hookMu.Unlock()
	var line []byte
	var err error
	if hook.plainTxtFormatter != nil {
		line, err = hook.plainTxtFormatter.Format(entry)
	} else {
		line, err = entry.Bytes()
	}
	if err != nil {
		return err
	}
	if _, err = hook.w.Write(line); err != nil {
		return err
	}
	if wb, ok := hook.w.(*bufio.Writer); ok {
		if err := wb.Flush(); err != nil {
			return err
		}
		if hook.fd != nil {
			_ = hook.fd.Sync()
		}
	}
	return nil
}

// GetLogDest returns the destination of the log as a string
func (hook *LogrusHook) GetLogDest() string {
	hookMu.Lock()
	defer hookMu.Unlock()
	return hook.fname
}

// Levels implements the logrus Hook interface
func (hook *LogrusHook) Levels() []log.Level {
	return log.AllLevels
}

// Reopen closes and re-opens the log file descriptor, which is a special feature of this hook
func (hook *LogrusHook) Reopen() error {
	hookMu.Lock()
	defer hookMu.Unlock()
	if hook.fd == nil {
		return nil
	}
	if err := hook.fd.Close(); err != nil {
		return err
	}
	// The file could have been re-named by an external program such as logrotate(8)
	return hook.open(hook.fname)
}
