// Package logging sets up the process-wide JSON logger and threads request
// metadata (caller, route, user) through contexts, so REST calls, websocket
// sessions and publisher failures all log with the same fields.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/mdobak/go-xerrors"
)

// SecurityEvent tags WARN lines that an operator may want to alert on.
type SecurityEvent string

const (
	SecurityEventMissingAuth       SecurityEvent = "missing_auth"
	SecurityEventInvalidAuthFmt    SecurityEvent = "invalid_auth_format"
	SecurityEventInvalidJWT        SecurityEvent = "invalid_jwt"
	SecurityEventUserNotFound      SecurityEvent = "user_not_found"
	SecurityEventInactiveUser      SecurityEvent = "inactive_user"
	SecurityEventInsufficientRole  SecurityEvent = "insufficient_role"
	SecurityEventProjectForbidden  SecurityEvent = "project_forbidden"
	SecurityEventRateLimited       SecurityEvent = "rate_limited"
	SecurityEventBadCredentials    SecurityEvent = "bad_credentials"
	SecurityEventWebSocketRejected SecurityEvent = "ws_auth_failed"
)

// Attribute keys whose values never reach the log output.
var redactedKeys = map[string]bool{
	"token":         true,
	"access_token":  true,
	"refresh_token": true,
	"password":      true,
	"authorization": true,
}

const redacted = "[Filtered]"

// RequestAttrs is what a log line knows about the request that caused it.
// UserID and Role stay zero until authentication succeeds.
type RequestAttrs struct {
	Method string
	Path   string
	IP     string
	UserID int64
	Role   string
}

func (a RequestAttrs) attrs() []slog.Attr {
	out := []slog.Attr{
		slog.String("method", a.Method),
		slog.String("path", a.Path),
		slog.String("ip", a.IP),
	}
	if a.UserID != 0 {
		out = append(out, slog.Int64("user_id", a.UserID))
	}
	if a.Role != "" {
		out = append(out, slog.String("role", a.Role))
	}
	return out
}

type attrsKey struct{}

// Initialize installs the default logger. LOGGING_LEVEL picks the level
// (debug, info, warn, error; anything else means info).
func Initialize() {
	slog.SetDefault(New(os.Stdout, os.Getenv("LOGGING_LEVEL")))
}

// New builds a JSON logger writing to w. Errors are expanded into their
// message and stack, and credential-bearing attributes are blanked.
func New(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: replaceAttr,
	}))
}

// ParseLevel is case-insensitive and falls back to info.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if redactedKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	if a.Value.Kind() != slog.KindAny {
		return a
	}
	if err, ok := a.Value.Any().(error); ok {
		a.Value = errorValue(err)
	}
	return a
}

// errorValue renders err as {"msg": ..., "trace": ["dir/file.go:12 fn", ...]}.
// The trace is omitted for errors that never went through WrapError.
func errorValue(err error) slog.Value {
	group := []slog.Attr{slog.String("msg", err.Error())}
	if trace := stackLines(err); len(trace) > 0 {
		group = append(group, slog.Any("trace", trace))
	}
	return slog.GroupValue(group...)
}

func stackLines(err error) []string {
	st := xerrors.StackTrace(err)
	if len(st) == 0 {
		return nil
	}
	frames := st.Frames()
	lines := make([]string, 0, len(frames))
	for _, f := range frames {
		file := filepath.Join(filepath.Base(filepath.Dir(f.File)), filepath.Base(f.File))
		lines = append(lines, fmt.Sprintf("%s:%d %s", file, f.Line, filepath.Base(f.Function)))
	}
	return lines
}

// WrapError prefixes err with msg and records the caller's stack.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return xerrors.Newf("%s: %v", msg, xerrors.WithStackTrace(err, 1))
}

// WithRequestAttrs stores attrs on ctx.
func WithRequestAttrs(ctx context.Context, attrs *RequestAttrs) context.Context {
	return context.WithValue(ctx, attrsKey{}, attrs)
}

// GetRequestAttrs returns nil outside a request.
func GetRequestAttrs(ctx context.Context) *RequestAttrs {
	attrs, _ := ctx.Value(attrsKey{}).(*RequestAttrs)
	return attrs
}

// UpdateRequestAttrs returns a context whose attrs carry the authenticated
// user. The attrs already on ctx are copied, never mutated, since the request
// logger still holds them.
func UpdateRequestAttrs(ctx context.Context, userID int64, role string) context.Context {
	var next RequestAttrs
	if cur := GetRequestAttrs(ctx); cur != nil {
		next = *cur
	}
	next.UserID = userID
	next.Role = role
	return WithRequestAttrs(ctx, &next)
}

// RequestFields flattens the request attrs on ctx into slog arguments.
func RequestFields(ctx context.Context) []any {
	attrs := GetRequestAttrs(ctx)
	if attrs == nil {
		return nil
	}
	list := attrs.attrs()
	fields := make([]any, len(list))
	for i, a := range list {
		fields[i] = a
	}
	return fields
}

// ExtractClientIP returns the address RealIP resolved into X-Real-IP, or the
// host part of RemoteAddr when that middleware is not mounted.
func ExtractClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// LogSecurityEvent writes a WARN line tagged with event.
func LogSecurityEvent(ctx context.Context, event SecurityEvent, msg string) {
	args := append(RequestFields(ctx), slog.String("security_event", string(event)))
	slog.WarnContext(ctx, msg, args...)
}

func LogErrorWithStatus(ctx context.Context, status int, msg string, err error) {
	args := append(RequestFields(ctx), slog.Int("status", status))
	if err != nil {
		args = append(args, slog.Any("error", err))
	}
	slog.ErrorContext(ctx, msg, args...)
}
