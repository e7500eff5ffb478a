// Package logging configures the process-wide logrus logger used across
// wscli. It installs a compact custom formatter and, when enabled, mirrors
// output into a size-bounded rotating log file.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/wscli-dev/wscli/internal/config"
)

var (
	setupOnce sync.Once
	writerMu  sync.Mutex
	logWriter *lumberjack.Logger
)

// LogFormatter renders log lines in the wscli format:
// [2026-08-30 10:12:44] [warn ] [token_store.go:87] stored token file failed schema validation
type LogFormatter struct{}

// Format renders a single log entry with custom formatting.
func (m *LogFormatter) Format(entry *log.Entry) ([]byte, error) {
	var buffer *bytes.Buffer
	if entry.Buffer != nil {
		buffer = entry.Buffer
	} else {
		buffer = &bytes.Buffer{}
	}

	timestamp := entry.Time.Format("2006-01-02 15:04:05")
	message := strings.TrimRight(entry.Message, "\r\n")

	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}
	levelStr := fmt.Sprintf("%-5s", level)

	var fieldsStr string
	if len(entry.Data) > 0 {
		keys := make([]string, 0, len(entry.Data))
		for k := range entry.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fields := make([]string, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, fmt.Sprintf("%s=%v", k, entry.Data[k]))
		}
		fieldsStr = " " + strings.Join(fields, " ")
	}

	if entry.Caller != nil {
		fmt.Fprintf(buffer, "[%s] [%s] [%s:%d] %s%s\n", timestamp, levelStr, filepath.Base(entry.Caller.File), entry.Caller.Line, message, fieldsStr)
	} else {
		fmt.Fprintf(buffer, "[%s] [%s] %s%s\n", timestamp, levelStr, message, fieldsStr)
	}

	return buffer.Bytes(), nil
}

// SetupBaseLogger installs the formatter and default level. Safe to call
// more than once; only the first call takes effect.
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetFormatter(&LogFormatter{})
		log.SetReportCaller(true)
		log.SetLevel(log.InfoLevel)
		log.SetOutput(os.Stderr)
	})
}

// ConfigureFromConfig applies the logging-related settings from cfg:
// debug level and optional rotating file output under the config directory.
func ConfigureFromConfig(cfg *config.Config) {
	SetupBaseLogger()

	if cfg == nil {
		return
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	writerMu.Lock()
	defer writerMu.Unlock()

	if !cfg.LoggingToFile {
		if logWriter != nil {
			_ = logWriter.Close()
			logWriter = nil
			log.SetOutput(os.Stderr)
		}
		return
	}

	logPath := filepath.Join(config.ConfigDir(), "logs", "wscli.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o700); err != nil {
		log.Warnf("cannot create log directory: %v", err)
		return
	}

	logWriter = &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, logWriter))
	log.Debugf("logging mirrored to %s", logPath)
}
