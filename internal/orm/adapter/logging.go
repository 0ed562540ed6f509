package adapter

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/waterline/internal/orm/query"
	"github.com/conduit-lang/waterline/internal/orm/schema"
)

type loggingAdapter struct {
	next   Adapter
	name   string
	logger *zap.Logger
}

// WithLogging wraps an adapter so every call is logged at debug level with its
// duration, and every failure at warn level.
func WithLogging(next Adapter, name string, logger *zap.Logger) Adapter {
	if logger == nil {
		return next
	}
	return &loggingAdapter{next: next, name: name, logger: logger.With(zap.String("adapter", name))}
}

func (l *loggingAdapter) observe(op, identity string, start time.Time, err error, fields ...zap.Field) {
	fields = append(fields,
		zap.String("op", op),
		zap.String("collection", identity),
		zap.Duration("duration", time.Since(start)),
	)
	if err != nil {
		l.logger.Warn("adapter call failed", append(fields, zap.Error(err))...)
		return
	}
	l.logger.Debug("adapter call", fields...)
}

func (l *loggingAdapter) Register(ctx context.Context, models []*schema.Model) error {
	start := time.Now()
	err := l.next.Register(ctx, models)
	l.observe("register", "*", start, err, zap.Int("models", len(models)))
	return err
}

func (l *loggingAdapter) Create(ctx context.Context, identity string, values map[string]interface{}) (map[string]interface{}, error) {
	start := time.Now()
	out, err := l.next.Create(ctx, identity, values)
	l.observe("create", identity, start, err)
	return out, err
}

func (l *loggingAdapter) Find(ctx context.Context, identity string, criteria *query.Criteria) ([]map[string]interface{}, error) {
	start := time.Now()
	out, err := l.next.Find(ctx, identity, criteria)
	l.observe("find", identity, start, err, zap.Stringer("criteria", criteria), zap.Int("rows", len(out)))
	return out, err
}

func (l *loggingAdapter) Update(ctx context.Context, identity string, criteria *query.Criteria, changes map[string]interface{}) ([]map[string]interface{}, error) {
	start := time.Now()
	out, err := l.next.Update(ctx, identity, criteria, changes)
	l.observe("update", identity, start, err, zap.Stringer("criteria", criteria), zap.Int("rows", len(out)))
	return out, err
}

func (l *loggingAdapter) Destroy(ctx context.Context, identity string, criteria *query.Criteria) (int, error) {
	start := time.Now()
	n, err := l.next.Destroy(ctx, identity, criteria)
	l.observe("destroy", identity, start, err, zap.Stringer("criteria", criteria), zap.Int("rows", n))
	return n, err
}

func (l *loggingAdapter) Teardown(ctx context.Context) error {
	start := time.Now()
	err := l.next.Teardown(ctx)
	l.observe("teardown", "*", start, err)
	return err
}
