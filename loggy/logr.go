package loggy

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"
)

// sink adapts a Logger to logr. Info at V(n) is written when n <= VERBOSITY.
type sink struct {
	l      *Logger
	name   string
	values []interface{}
}

// Logr returns a logr.Logger writing to the log file for id.
func Logr(id int) logr.Logger {
	return logr.New(&sink{l: Get(id)})
}

func (s *sink) Init(info logr.RuntimeInfo) {}

func (s *sink) Enabled(level int) bool {
	return level <= VERBOSITY
}

func (s *sink) Info(level int, msg string, kv ...interface{}) {
	designator := "INFO "
	if level > 0 {
		designator = "DEBUG"
	}
	s.l.llogf("%s", designator, s.render(msg, kv))
}

func (s *sink) Error(err error, msg string, kv ...interface{}) {
	if err != nil {
		kv = append([]interface{}{"error", err.Error()}, kv...)
	}
	s.l.llogf("%s", "ERROR", s.render(msg, kv))
}

func (s *sink) WithValues(kv ...interface{}) logr.LogSink {
	n := *s
	n.values = append(append([]interface{}(nil), s.values...), kv...)
	return &n
}

func (s *sink) WithName(name string) logr.LogSink {
	n := *s
	if n.name == "" {
		n.name = name
	} else {
		n.name += "/" + name
	}
	return &n
}

func (s *sink) render(msg string, kv []interface{}) string {
	var sb strings.Builder
	if s.name != "" {
		sb.WriteString(s.name)
		sb.WriteString(": ")
	}
	sb.WriteString(msg)
	all := append(append([]interface{}(nil), s.values...), kv...)
	for i := 0; i < len(all); i += 2 {
		var v interface{} = "(missing)"
		if i+1 < len(all) {
			v = all[i+1]
		}
		fmt.Fprintf(&sb, " %v=%v", all[i], v)
	}
	return sb.String()
}
