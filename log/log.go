// Package log wraps zerolog with scoped loggers and typed fields used across
// the repository. Every component creates its logger via New("scope") or picks
// one up from the context via Ctx.
package log

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a scoped zerolog logger.
type Logger struct {
	zl zerolog.Logger
}

// InitGlobals configures the process-wide logger and returns it.
func InitGlobals(level zerolog.Level, json, noColor bool) Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	var zl zerolog.Logger
	if json {
		zl = zerolog.New(os.Stderr)
	} else {
		zl = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			NoColor:    noColor,
			TimeFormat: "15:04:05.000",
		})
	}

	zl = zl.Level(level).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &zl

	return Logger{zl: zl}
}

// New returns a logger annotated with the given scope name.
func New(scope string) Logger {
	zl := zerolog.DefaultContextLogger
	if zl == nil {
		l := zerolog.Nop()
		zl = &l
	}

	return Logger{zl: zl.With().Str("s", scope).Logger()}
}

// Ctx returns the logger embedded in ctx, or the process-wide logger.
func Ctx(ctx context.Context) Logger {
	return Logger{zl: *zerolog.Ctx(ctx)}
}

// WithContext embeds the logger into ctx.
func (l Logger) WithContext(ctx context.Context) context.Context {
	return l.zl.WithContext(ctx)
}

// With returns a copy of the logger with the fields attached.
func (l Logger) With(fields ...Field) Logger {
	zc := l.zl.With()
	for _, f := range fields {
		zc = f.apply(zc)
	}

	return Logger{zl: zc.Logger()}
}

func (l Logger) Trace(msg string) {
	l.zl.Trace().Msg(msg)
}

func (l Logger) Tracef(format string, vals ...any) {
	l.zl.Trace().Msgf(format, vals...)
}

func (l Logger) Debug(msg string) {
	l.zl.Debug().Msg(msg)
}

func (l Logger) Debugf(format string, vals ...any) {
	l.zl.Debug().Msgf(format, vals...)
}

func (l Logger) Info(msg string) {
	l.zl.Info().Msg(msg)
}

func (l Logger) Infof(format string, vals ...any) {
	l.zl.Info().Msgf(format, vals...)
}

func (l Logger) Warn(msg string) {
	l.zl.Warn().Msg(msg)
}

func (l Logger) Warnf(format string, vals ...any) {
	l.zl.Warn().Msgf(format, vals...)
}

func (l Logger) Error(err error, msg string) {
	l.zl.Error().Err(err).Msg(msg)
}

func (l Logger) Errorf(err error, format string, vals ...any) {
	l.zl.Error().Err(err).Msgf(format, vals...)
}

// Field is a typed log field attached via [Logger.With].
type Field struct {
	apply func(zerolog.Context) zerolog.Context
}

// Str returns a string field.
func Str(key, val string) Field {
	return Field{func(zc zerolog.Context) zerolog.Context { return zc.Str(key, val) }}
}

// Int64 returns an int64 field.
func Int64(key string, val int64) Field {
	return Field{func(zc zerolog.Context) zerolog.Context { return zc.Int64(key, val) }}
}

// Coll returns a source collection field.
func Coll(name string) Field {
	return Str("coll", name)
}

// Index returns a target index field.
func Index(name string) Field {
	return Str("index", name)
}

// Op returns an operation kind field.
func Op(op string) Field {
	return Str("op", op)
}

// Count returns a document count field.
func Count(n int64) Field {
	return Int64("count", n)
}

// Size returns a byte size field.
func Size(n uint64) Field {
	return Field{func(zc zerolog.Context) zerolog.Context { return zc.Uint64("size", n) }}
}

// Elapsed returns an elapsed duration field.
func Elapsed(d time.Duration) Field {
	return Field{func(zc zerolog.Context) zerolog.Context { return zc.Dur("elapsed", d) }}
}
