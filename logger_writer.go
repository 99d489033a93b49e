package wsrpc

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// writerLogger implements Logger on top of an io.Writer. Tests use it to capture diagnostics.
type writerLogger struct {
	mu     *sync.Mutex
	writer io.Writer
	fields map[string]any
}

// NewWriterLogger creates a new logger that writes one line per entry to the provided writer.
func NewWriterLogger(writer io.Writer) Logger {
	return &writerLogger{
		mu:     &sync.Mutex{},
		writer: writer,
		fields: make(map[string]any),
	}
}

func (l *writerLogger) WithField(key string, value any) Logger {
	newLogger := &writerLogger{
		mu:     l.mu,
		writer: l.writer,
		fields: make(map[string]any, len(l.fields)+1),
	}
	for k, v := range l.fields {
		newLogger.fields[k] = v
	}
	newLogger.fields[key] = value
	return newLogger
}

func (l *writerLogger) formatFields() string {
	if len(l.fields) == 0 {
		return ""
	}

	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, l.fields[k]))
	}
	return " [" + strings.Join(parts, ", ") + "]"
}

func (l *writerLogger) log(level, msg string) {
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.writer, "[%s] %s%s: %s\n", timestamp, level, l.formatFields(), strings.TrimRight(msg, "\n"))
}

func (l *writerLogger) Debug(args ...any) {
	l.log("DEBUG", fmt.Sprint(args...))
}

func (l *writerLogger) Debugf(format string, args ...any) {
	l.log("DEBUG", fmt.Sprintf(format, args...))
}

func (l *writerLogger) Debugln(args ...any) {
	l.log("DEBUG", fmt.Sprintln(args...))
}

func (l *writerLogger) Info(args ...any) {
	l.log("INFO", fmt.Sprint(args...))
}

func (l *writerLogger) Infof(format string, args ...any) {
	l.log("INFO", fmt.Sprintf(format, args...))
}

func (l *writerLogger) Infoln(args ...any) {
	l.log("INFO", fmt.Sprintln(args...))
}

func (l *writerLogger) Warn(args ...any) {
	l.log("WARN", fmt.Sprint(args...))
}

func (l *writerLogger) Warnf(format string, args ...any) {
	l.log("WARN", fmt.Sprintf(format, args...))
}

func (l *writerLogger) Warnln(args ...any) {
	l.log("WARN", fmt.Sprintln(args...))
}

func (l *writerLogger) Error(args ...any) {
	l.log("ERROR", fmt.Sprint(args...))
}

func (l *writerLogger) Errorf(format string, args ...any) {
	l.log("ERROR", fmt.Sprintf(format, args...))
}

func (l *writerLogger) Errorln(args ...any) {
	l.log("ERROR", fmt.Sprintln(args...))
}
