package internal

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

// InitSlog installs a JSON slog handler on stderr as the default logger.
func InitSlog(level string) {
	slog.SetDefault(NewLogger(os.Stderr, level))
}

// NewLogger builds a JSON logger writing to w. Unknown levels fall back to info.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var programLevel slog.Level
	if err := (&programLevel).UnmarshalText([]byte(level)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v, using info\n", level, err)
		programLevel = slog.LevelInfo
	}

	leveler := &slog.LevelVar{}
	leveler.Set(programLevel)

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: true,
		Level:     leveler,
	})
	return slog.New(h)
}

func GetRequestLogger(r *http.Request) *slog.Logger {
	return slog.With(
		"method", r.Method,
		"path", r.URL.Path,
		"user_agent", r.UserAgent(),
		"remote_addr", r.RemoteAddr,
		"x-forwarded-for", r.Header.Get("X-Forwarded-For"),
		"x-real-ip", r.Header.Get("X-Real-Ip"),
	)
}

// ErrorLogFilter drops "context canceled" noise that net/http logs when a
// client goes away mid-request.
type ErrorLogFilter struct {
	Unwrap *log.Logger
}

func (elf *ErrorLogFilter) Write(p []byte) (n int, err error) {
	if strings.Contains(string(p), "context canceled") {
		return len(p), nil
	}
	if elf.Unwrap != nil {
		return elf.Unwrap.Writer().Write(p)
	}
	return len(p), nil
}

func GetFilteredHTTPLogger() *log.Logger {
	stdErrLogger := log.New(os.Stderr, "", log.LstdFlags)
	return log.New(&ErrorLogFilter{Unwrap: stdErrLogger}, "", 0)
}
