package logging

import (
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/m-mizutani/clog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/masq"
)

// Format represents the logging output format
type Format int

const (
	FormatConsole Format = iota + 1
	FormatJSON
)

var (
	defaultLogger = slog.Default()
	loggerMutex   sync.Mutex
)

// Default returns the default logger
func Default() *slog.Logger {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	return defaultLogger
}

// SetDefault replaces both the package default and the slog default
func SetDefault(logger *slog.Logger) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	defaultLogger = logger
	slog.SetDefault(logger)
}

// Quiet sets the logger to discard all output
func Quiet() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	SetDefault(logger)
	return logger
}

// ParseLevel converts a level name into slog.Level
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, goerr.New("invalid log level",
		goerr.V("level", s),
		goerr.V("valid_levels", []string{"debug", "info", "warn", "error"}),
	)
}

// ParseFormat converts a format name into Format
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "console":
		return FormatConsole, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatConsole, goerr.New("invalid log format",
		goerr.V("format", s),
		goerr.V("valid_formats", []string{"console", "json"}),
	)
}

// New creates a logger writing to w. Attributes pass through the masq filter
// in both formats, so secrets never reach the output.
func New(w io.Writer, level slog.Level, format Format, stacktrace bool) *slog.Logger {
	filter := newMasqFilter()

	if format == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			AddSource:   true,
			Level:       level,
			ReplaceAttr: filter,
		}))
	}

	attrHook := clog.GoerrHook
	if !stacktrace {
		attrHook = goerrNoStacktrace
	}
	return slog.New(clog.New(
		clog.WithWriter(w),
		clog.WithLevel(level),
		clog.WithReplaceAttr(filter),
		clog.WithAttrHook(attrHook),
		clog.WithColorMap(colorMap()),
	))
}

// projectKeyPattern matches raw project keys wherever they appear in attributes
var projectKeyPattern = regexp.MustCompile(`^pm_[A-Za-z0-9_-]{16,}$`)

func newMasqFilter() func([]string, slog.Attr) slog.Attr {
	return masq.New(
		masq.WithTag("secret"),
		masq.WithFieldPrefix("secret_"),
		masq.WithFieldName("Authorization"),
		masq.WithFieldName("Token"),
		masq.WithFieldName("APIKey"),
		masq.WithFieldName("EncryptedAPIKey"),
		masq.WithFieldName("JWTSecret"),
		masq.WithFieldName("EncryptionKey"),
		masq.WithFieldName("api_key"),
		masq.WithFieldName("token"),
		masq.WithRegex(projectKeyPattern),
	)
}

func colorMap() *clog.ColorMap {
	return &clog.ColorMap{
		Level: map[slog.Level]*color.Color{
			slog.LevelDebug: color.New(color.FgGreen, color.Bold),
			slog.LevelInfo:  color.New(color.FgCyan, color.Bold),
			slog.LevelWarn:  color.New(color.FgYellow, color.Bold),
			slog.LevelError: color.New(color.FgRed, color.Bold),
		},
		LevelDefault: color.New(color.FgBlue, color.Bold),
		Time:         color.New(color.FgWhite),
		Message:      color.New(color.FgHiWhite),
		AttrKey:      color.New(color.FgHiCyan),
		AttrValue:    color.New(color.FgHiWhite),
	}
}

// goerrNoStacktrace flattens goerr errors into values and message only
func goerrNoStacktrace(_ []string, attr slog.Attr) *clog.HandleAttr {
	goErr, ok := attr.Value.Any().(*goerr.Error)
	if !ok {
		return nil
	}

	var attrs []any
	for k, v := range goErr.Values() {
		attrs = append(attrs, slog.Any(k, v))
	}
	attrs = append(attrs, slog.String("message", goErr.Error()))

	newAttr := slog.Group(attr.Key, attrs...)
	return &clog.HandleAttr{
		NewAttr: &newAttr,
	}
}
