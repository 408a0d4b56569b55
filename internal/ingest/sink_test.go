package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"product_radar/internal/model"
	"product_radar/internal/store"
)

type fakeApplier struct {
	got   []model.SignalUpdate
	score float64
	err   error
}

func (f *fakeApplier) ApplySignal(_ context.Context, u model.SignalUpdate) (*model.Product, error) {
	f.got = append(f.got, u)
	if f.err != nil {
		return nil, f.err
	}
	return &model.Product{ID: u.ProductID, Score: f.score}, nil
}

func TestDirectSink_Applied(t *testing.T) {
	fa := &fakeApplier{score: 42.5}
	sink := NewDirectSink(fa)
	fixed := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	sink.now = func() time.Time { return fixed }

	r, err := sink.Submit(context.Background(), model.SignalUpdate{ProductID: "p1", Kind: model.SignalPrice, Price: model.Float64(3)})
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, r.Status)
	require.NotNil(t, r.Score)
	assert.Equal(t, 42.5, *r.Score)
	assert.NotEmpty(t, r.RequestID)

	require.Len(t, fa.got, 1)
	assert.Equal(t, fixed, fa.got[0].ObservedAt)
	assert.Equal(t, r.RequestID, fa.got[0].RequestID)
}

func TestDirectSink_KeepsObservedAtAndRequestID(t *testing.T) {
	fa := &fakeApplier{}
	sink := NewDirectSink(fa)
	observed := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	r, err := sink.Submit(context.Background(), model.SignalUpdate{
		RequestID: "req-1", ProductID: "p1", Kind: model.SignalPrice, ObservedAt: observed, Price: model.Float64(3),
	})
	require.NoError(t, err)
	assert.Equal(t, "req-1", r.RequestID)
	assert.Equal(t, observed, fa.got[0].ObservedAt)
}

func TestDirectSink_Stale(t *testing.T) {
	sink := NewDirectSink(&fakeApplier{err: store.ErrStaleSignal})
	r, err := sink.Submit(context.Background(), model.SignalUpdate{ProductID: "p1", Kind: model.SignalPrice, Price: model.Float64(3)})
	require.NoError(t, err)
	assert.Equal(t, StatusStale, r.Status)
	assert.Nil(t, r.Score)
}

func TestDirectSink_Error(t *testing.T) {
	sink := NewDirectSink(&fakeApplier{err: store.ErrNotFound})
	_, err := sink.Submit(context.Background(), model.SignalUpdate{ProductID: "p1", Kind: model.SignalPrice, Price: model.Float64(3)})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
