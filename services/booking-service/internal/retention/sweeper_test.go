package retention

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeStore struct {
	keys       []time.Time
	published  []time.Time
	pending    []time.Time
	keyCalls   int
	failEvents bool
}

func purge(rows *[]time.Time, before time.Time, limit int) int64 {
	var kept []time.Time
	var n int64
	for _, at := range *rows {
		if at.Before(before) && n < int64(limit) {
			n++
			continue
		}
		kept = append(kept, at)
	}
	*rows = kept
	return n
}

func (f *fakeStore) PurgeIdempotencyKeys(ctx context.Context, before time.Time, limit int) (int64, error) {
	f.keyCalls++
	return purge(&f.keys, before, limit), nil
}

func (f *fakeStore) PurgePublishedEvents(ctx context.Context, before time.Time, limit int) (int64, error) {
	if f.failEvents {
		return 0, errors.New("db down")
	}
	return purge(&f.published, before, limit), nil
}

func (f *fakeStore) PurgeStaleEvents(ctx context.Context, before time.Time, limit int) (int64, error) {
	if f.failEvents {
		return 0, errors.New("db down")
	}
	return purge(&f.published, before, limit) + purge(&f.pending, before, limit), nil
}

func TestSweepDrainsInBatches(t *testing.T) {
	now := time.Date(2030, 1, 10, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	for i := 0; i < 5; i++ {
		store.keys = append(store.keys, now.Add(-48*time.Hour))
	}
	store.keys = append(store.keys, now.Add(-time.Hour))
	store.published = []time.Time{now.Add(-8 * 24 * time.Hour), now.Add(-24 * time.Hour)}

	s := NewSweeper(store, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{BatchSize: 2})
	s.now = func() time.Time { return now }

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(store.keys) != 1 || len(store.published) != 1 {
		t.Fatalf("expected one fresh row left in each table, got keys=%d events=%d", len(store.keys), len(store.published))
	}
	// 2 + 2 + 1: the short batch ends the drain.
	if store.keyCalls != 3 {
		t.Fatalf("expected 3 key batches, got %d", store.keyCalls)
	}
}

func TestSweepReportsErrors(t *testing.T) {
	store := &fakeStore{failEvents: true}
	s := NewSweeper(store, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{})
	if err := s.Sweep(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSweepKeepsUnpublishedEventsWhilePublishing(t *testing.T) {
	now := time.Date(2030, 1, 10, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{pending: []time.Time{now.Add(-30 * 24 * time.Hour)}}
	s := NewSweeper(store, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{})
	s.now = func() time.Time { return now }

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(store.pending) != 1 {
		t.Fatalf("pending events must wait for the publisher, got %d left", len(store.pending))
	}
}

func TestSweepDropsOldEventsWithoutPublisher(t *testing.T) {
	now := time.Date(2030, 1, 10, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{
		pending:   []time.Time{now.Add(-30 * 24 * time.Hour), now.Add(-8 * 24 * time.Hour), now.Add(-time.Hour)},
		published: []time.Time{now.Add(-8 * 24 * time.Hour)},
	}
	s := NewSweeper(store, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{NoPublisher: true})
	s.now = func() time.Time { return now }

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(store.pending) != 1 || len(store.published) != 0 {
		t.Fatalf("expected only the fresh event left, got pending=%d published=%d", len(store.pending), len(store.published))
	}
}
