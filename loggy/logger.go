package loggy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var ECHO bool = false
var SILENT bool = false
var VERBOSITY int = 0
var LogFolder string = "./logs/"

// Logger writes one log file per id. A Logger whose file could not be
// created still echoes to stderr.
type Logger struct {
	mu      sync.Mutex
	logFile *os.File
	id      int
	app     string
}

var mu sync.Mutex
var loggers map[int]*Logger
var app string = "image-rider"

func Get(id int) *Logger {
	mu.Lock()
	defer mu.Unlock()
	if loggers == nil {
		loggers = make(map[int]*Logger)
	}
	l, ok := loggers[id]
	if !ok {
		l = NewLogger(id, app)
		loggers[id] = l
	}
	return l
}

func NewLogger(id int, app string) *Logger {

	if app == "" {
		app = "image-rider"
	}

	l := &Logger{
		id:  id,
		app: app,
	}
	if SILENT {
		return l
	}

	filename := fmt.Sprintf("%s_%d_%s.log", app, id, fts())
	if err := os.MkdirAll(LogFolder, 0755); err != nil {
		return l
	}
	l.logFile, _ = os.Create(filepath.Join(LogFolder, filename))

	return l
}

// CloseAll flushes and closes every open log file.
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()
	for id, l := range loggers {
		l.mu.Lock()
		if l.logFile != nil {
			l.logFile.Close()
			l.logFile = nil
		}
		l.mu.Unlock()
		delete(loggers, id)
	}
}

func ts() string {
	t := time.Now()
	return fmt.Sprintf(
		"%.4d/%.2d/%.2d %.2d:%.2d:%.2d",
		t.Year(), t.Month(), t.Day(),
		t.Hour(), t.Minute(), t.Second(),
	)
}

func fts() string {
	t := time.Now()
	return fmt.Sprintf(
		"%.4d%.2d%.2d%.2d%.2d%.2d",
		t.Year(), t.Month(), t.Day(),
		t.Hour(), t.Minute(), t.Second(),
	)
}

func (l *Logger) write(line string) {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		l.logFile.WriteString(line)
		l.logFile.Sync()
	}

	if ECHO {
		os.Stderr.WriteString(line)
	}
}

func (l *Logger) llogf(format string, designator string, v ...interface{}) {
	l.write(ts() + " " + designator + " :: " + fmt.Sprintf(format, v...))
}

func (l *Logger) llog(designator string, v ...interface{}) {
	line := ts() + " " + designator + " :: "
	for _, vv := range v {
		line += fmt.Sprintf("%v ", vv)
	}
	l.write(line)
}

func (l *Logger) Logf(format string, v ...interface{}) {
	l.llogf(format, "INFO ", v...)
}

func (l *Logger) Log(v ...interface{}) {
	l.llog("INFO ", v...)
}

func (l *Logger) Errorf(format string, v ...interface{}) {
	l.llogf(format, "ERROR", v...)
}

func (l *Logger) Error(v ...interface{}) {
	l.llog("ERROR", v...)
}

func (l *Logger) Debugf(format string, v ...interface{}) {
	l.llogf(format, "DEBUG", v...)
}

func (l *Logger) Debug(v ...interface{}) {
	l.llog("DEBUG", v...)
}
