package logger

import (
	"bufio"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type ILogger interface {
	Debug(module, message string, details map[string]interface{})
	Info(module, message string, details map[string]interface{})
	Warn(module, message string, details map[string]interface{})
	Error(module, message string, details map[string]interface{})
	// With returns a logger that adds fields to every entry's details.
	// Per-call details win over fields on conflict.
	With(fields map[string]interface{}) ILogger
	Sync() error
	GetLogs(filter LogFilter, limit, offset int) ([]LogEntry, error)
	GetLogById(id string) (*LogEntry, error)
}

type ZapLogger struct {
	logger   *zap.Logger
	filePath string
	fields   map[string]interface{}
}

var _ ILogger = (*ZapLogger)(nil)

func newRotator(logFilePath string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    10,   // Megabytes
		MaxBackups: 5,    // Files
		MaxAge:     30,   // Days
		Compress:   true, // gzip
	}
}

// File lines are JSON so GetLogs can read them back.
func newFileEncoder() zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "message"
	encoderConfig.LevelKey = "level"
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(encoderConfig)
}

// NewZapLogger writes JSON to a rotated file and to stdout.
func NewZapLogger(logFilePath string, isProd bool) *ZapLogger {
	fileEncoder := newFileEncoder()
	fileCore := zapcore.NewCore(fileEncoder, zapcore.AddSync(newRotator(logFilePath)), zap.InfoLevel)

	consoleEncoder := fileEncoder
	if !isProd {
		consoleEncoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	consoleCore := zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), zap.DebugLevel)

	l := zap.New(zapcore.NewTee(fileCore, consoleCore), zap.AddCaller(), zap.AddCallerSkip(1)) // Skip 1 to point to caller of wrapper
	return &ZapLogger{logger: l, filePath: logFilePath}
}

// NewIsolatedLogger creates a logger that ONLY writes to the file, not console.
// Media sockets log per frame and per segment, so they get their own file.
func NewIsolatedLogger(logFilePath string) *ZapLogger {
	fileCore := zapcore.NewCore(newFileEncoder(), zapcore.AddSync(newRotator(logFilePath)), zap.InfoLevel)
	l := zap.New(fileCore, zap.AddCaller(), zap.AddCallerSkip(1))
	return &ZapLogger{logger: l, filePath: logFilePath}
}

// NewNopLogger discards everything. Used by tests.
func NewNopLogger() *ZapLogger {
	return &ZapLogger{logger: zap.NewNop()}
}

func (l *ZapLogger) With(fields map[string]interface{}) ILogger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &ZapLogger{logger: l.logger, filePath: l.filePath, fields: merged}
}

func (l *ZapLogger) details(details map[string]interface{}) map[string]interface{} {
	if len(l.fields) == 0 {
		if details == nil {
			return map[string]interface{}{}
		}
		return details
	}
	merged := make(map[string]interface{}, len(l.fields)+len(details))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return merged
}

func (l *ZapLogger) Debug(module, message string, details map[string]interface{}) {
	l.logger.Debug(message, zap.String("module", module), zap.Any("details", l.details(details)))
}

func (l *ZapLogger) Info(module, message string, details map[string]interface{}) {
	l.logger.Info(message, zap.String("module", module), zap.Any("details", l.details(details)))
}

func (l *ZapLogger) Warn(module, message string, details map[string]interface{}) {
	l.logger.Warn(message, zap.String("module", module), zap.Any("details", l.details(details)))
}

func (l *ZapLogger) Error(module, message string, details map[string]interface{}) {
	details = l.details(details)
	if err, ok := details["error"]; ok {
		l.logger.Error(message, zap.String("module", module), zap.Any("details", details), zap.Any("error_ref", err))
	} else {
		l.logger.Error(message, zap.String("module", module), zap.Any("details", details))
	}
}

func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

// Log Reading Capabilities for Admin Dashboard

type LogEntry struct {
	Id        string                 `json:"id"`
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Module    string                 `json:"module,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// LogFilter selects entries. Empty fields match everything.
type LogFilter struct {
	Level  string
	Module string
	CallID string
}

func (f LogFilter) matches(e LogEntry) bool {
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	if f.Module != "" && e.Module != f.Module {
		return false
	}
	if f.CallID != "" {
		id, _ := e.Details["call_id"].(string)
		if id != f.CallID {
			return false
		}
	}
	return true
}

// GetLogs returns matching entries newest first. Only the newest
// offset+limit matches are held while the file is scanned.
func (l *ZapLogger) GetLogs(filter LogFilter, limit, offset int) ([]LogEntry, error) {
	window := offset + limit
	if l.filePath == "" || limit <= 0 {
		return []LogEntry{}, nil
	}

	ring := make([]LogEntry, 0, window)
	next := 0
	err := l.scan(func(entry LogEntry) bool {
		if !filter.matches(entry) {
			return true
		}
		if len(ring) < window {
			ring = append(ring, entry)
		} else {
			ring[next] = entry
		}
		next = (next + 1) % window
		return true
	})
	if err != nil {
		return nil, err
	}

	// Unroll the ring newest first
	entries := make([]LogEntry, 0, len(ring))
	for i := 0; i < len(ring); i++ {
		entries = append(entries, ring[(next-1-i+2*window)%window])
	}

	if offset >= len(entries) {
		return []LogEntry{}, nil
	}
	return entries[offset:], nil
}

func (l *ZapLogger) GetLogById(id string) (*LogEntry, error) {
	var found *LogEntry
	err := l.scan(func(entry LogEntry) bool {
		if entry.Id == id {
			found = &entry
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("log not found")
	}
	return found, nil
}

// scan feeds each parseable line to visit until it returns false. The entry
// ID is a hash of the raw line.
func (l *ZapLogger) scan(visit func(LogEntry) bool) error {
	if l.filePath == "" {
		return nil
	}
	file, err := os.Open(l.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	// Buffer for large lines
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		var entry LogEntry
		// Zap logs: {"level":"INFO","timestamp":"...","caller":"...","message":"...","module":"...","details":{...}}
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if entry.Id == "" {
			entry.Id = fmt.Sprintf("%x", md5.Sum(line))
		}
		if !visit(entry) {
			return nil
		}
	}
	return scanner.Err()
}
