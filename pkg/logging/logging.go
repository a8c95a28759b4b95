package logging

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Options controls where log events go.
type Options struct {
	// Verbosity is the -v count: 0 warn, 1 info, 2 debug, 3+ trace.
	Verbosity int
	// Console receives human readable events at the verbosity level.
	// Defaults to os.Stderr.
	Console io.Writer
	NoColor bool
	// File, when set, receives JSON events at debug level or finer so that
	// build output survives a quiet run. Empty disables the file.
	File string
}

// ConsoleLevel maps a -v count to the console level.
func ConsoleLevel(verbosity int) zerolog.Level {
	switch verbosity {
	case 0:
		return zerolog.WarnLevel
	case 1:
		return zerolog.InfoLevel
	case 2:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// SetupLogger configures the global logger based on verbosity level
// It sets up dual output to both console and a log file
func SetupLogger(opts Options) {
	consoleLevel := ConsoleLevel(opts.Verbosity)
	fileLevel := zerolog.DebugLevel
	if consoleLevel < fileLevel {
		fileLevel = consoleLevel
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	// Console output is pretty printed and filtered per writer; the global
	// level has to let through whatever the file wants.
	writers := []io.Writer{&zerolog.FilteredLevelWriter{
		Writer: zerolog.LevelWriterAdapter{Writer: zerolog.ConsoleWriter{
			Out:        console,
			TimeFormat: time.Kitchen,
			NoColor:    opts.NoColor,
		}},
		Level: consoleLevel,
	}}
	globalLevel := consoleLevel

	var fileErr error
	if opts.File != "" {
		var f *os.File
		f, fileErr = setupLogFile(opts.File)
		if fileErr == nil {
			writers = append(writers, &zerolog.FilteredLevelWriter{
				Writer: zerolog.LevelWriterAdapter{Writer: f},
				Level:  fileLevel,
			})
			globalLevel = fileLevel
		}
	}

	zerolog.SetGlobalLevel(globalLevel)
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()

	// If we couldn't create the log file, log the error now with the new logger
	if fileErr != nil {
		log.Warn().Err(fileErr).Str("path", opts.File).Msg("Failed to create log file, logging to console only")
	}

	// Caller information only helps once debug output is on screen
	if opts.Verbosity >= 2 {
		log.Logger = log.Logger.With().Caller().Logger()
	}

	log.Debug().Int("verbosity", opts.Verbosity).Str("logFile", opts.File).Msg("Logger initialized")
}

// GetLogger returns a contextualized logger with the given name
func GetLogger(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// ForPackage returns a component logger tagged with the package being
// installed.
func ForPackage(component, name, version string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Str("package", name).
		Str("version", version).
		Logger()
}

// setupLogFile creates the log file and its parent directories
func setupLogFile(logPath string) (*os.File, error) {
	logDir := filepath.Dir(logPath)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Append so history across runs stays in one file
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return file, nil
}

// LogCommand logs a command execution with its arguments
func LogCommand(cmd string, args []string) {
	log.Debug().
		Str("command", cmd).
		Strs("args", args).
		Msg("Executing command")
}

// LogOperationStart logs the start of an operation and returns a function to log its completion
func LogOperationStart(logger zerolog.Logger, operation string) func() {
	start := time.Now()
	logger.Debug().
		Str("operation", operation).
		Msg("Operation started")

	return func() {
		logger.Debug().
			Str("operation", operation).
			Dur("duration", time.Since(start)).
			Msg("Operation completed")
	}
}

// LineWriter is an io.Writer that emits one debug event per complete line
// written to it. Build tools write partial lines; the remainder is held
// until the next newline or Flush.
type LineWriter struct {
	mu     sync.Mutex
	logger zerolog.Logger
	stream string
	buf    bytes.Buffer
}

// NewLineWriter returns a LineWriter tagging each line with the stream name
// (stdout or stderr).
func NewLineWriter(logger zerolog.Logger, stream string) *LineWriter {
	return &LineWriter{logger: logger, stream: stream}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// incomplete line, put it back
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.emit(line[:len(line)-1])
	}
	return len(p), nil
}

// Flush emits any buffered partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *LineWriter) emit(line string) {
	w.logger.Debug().Str("stream", w.stream).Msg(line)
}
