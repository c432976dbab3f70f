package types

// Logger is the minimal structured logging interface used by components that
// should not depend on a concrete logging backend. *slog.Logger satisfies
// Info/Error/Warn directly; With needs a thin adapter because it returns
// *slog.Logger rather than Logger.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}
