package kvstore

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TraceStore wraps a store so that every call records a span.
func TraceStore(store Store, tracer trace.Tracer) Store {
	return &tracedStore{
		inner:  store,
		tracer: tracer,
	}
}

type tracedStore struct {
	inner  Store
	tracer trace.Tracer
}

func (s *tracedStore) PutIfNotExists(ctx context.Context, table string, item Item, idField string) error {
	ctx, span := s.tracer.Start(ctx, "kvstore.PutIfNotExists",
		trace.WithAttributes(
			attribute.String("db.table", table),
			attribute.String("db.id", stringAttr(item[idField])),
		),
	)
	defer span.End()

	err := s.inner.PutIfNotExists(ctx, table, item, idField)
	recordError(span, err)
	return err
}

func (s *tracedStore) Update(ctx context.Context, table string, key Key, update Update) error {
	ctx, span := s.tracer.Start(ctx, "kvstore.Update",
		trace.WithAttributes(
			attribute.String("db.table", table),
			attribute.Bool("db.require_exists", update.RequireExists),
		),
	)
	defer span.End()

	err := s.inner.Update(ctx, table, key, update)
	recordError(span, err)
	return err
}

func (s *tracedStore) BatchWrite(ctx context.Context, requests UnprocessedItems) (UnprocessedItems, error) {
	ctx, span := s.tracer.Start(ctx, "kvstore.BatchWrite",
		trace.WithAttributes(attribute.Int("db.batch.items", requests.Count())),
	)
	defer span.End()

	unprocessed, err := s.inner.BatchWrite(ctx, requests)
	recordError(span, err)
	if err == nil {
		span.SetAttributes(attribute.Int("db.batch.unprocessed", unprocessed.Count()))
	}
	return unprocessed, err
}

func (s *tracedStore) Get(ctx context.Context, table string, key Key) (Item, error) {
	ctx, span := s.tracer.Start(ctx, "kvstore.Get",
		trace.WithAttributes(attribute.String("db.table", table)),
	)
	defer span.End()

	item, err := s.inner.Get(ctx, table, key)
	if !errors.Is(err, ErrItemNotFound) {
		recordError(span, err)
	}
	return item, err
}

func recordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, KindOf(err).String())
}

func stringAttr(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
