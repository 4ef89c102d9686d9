package limiter

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func newTestLimiter(store RecordStore) *OrderIntervalLimiter {
	return NewOrderIntervalLimiter(store, time.Hour, zap.NewNop())
}

func TestOrderIntervalLimiter_Window(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(NewMemoryRecordStore())

	dec, err := l.CanPlaceOrder(ctx, "10.0.0.1", t0)
	require.NoError(t, err)
	assert.True(t, dec.Allowed, "first order from an origin is allowed")

	require.NoError(t, l.RecordOrder(ctx, "10.0.0.1", t0))

	tests := []struct {
		name        string
		after       time.Duration
		wantAllowed bool
		wantMinutes int
	}{
		{"immediately", 0, false, 60},
		{"after 59 minutes", 59 * time.Minute, false, 1},
		{"after 59.5 minutes truncates", 59*time.Minute + 30*time.Second, false, 0},
		{"after 30 minutes 20 seconds", 30*time.Minute + 20*time.Second, false, 29},
		{"exactly one hour", time.Hour, true, 0},
		{"after 61 minutes", 61 * time.Minute, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := l.CanPlaceOrder(ctx, "10.0.0.1", t0.Add(tt.after))
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllowed, dec.Allowed)
			assert.Equal(t, tt.wantMinutes, dec.MinutesRemaining)
		})
	}

	dec, err = l.CanPlaceOrder(ctx, "10.0.0.2", t0)
	require.NoError(t, err)
	assert.True(t, dec.Allowed, "origins are independent")
}

func TestOrderIntervalLimiter_RecordOverwrites(t *testing.T) {
	ctx := context.Background()
	l := newTestLimiter(NewMemoryRecordStore())

	require.NoError(t, l.RecordOrder(ctx, "a", t0))
	require.NoError(t, l.RecordOrder(ctx, "a", t0.Add(2*time.Hour)))

	dec, err := l.CanPlaceOrder(ctx, "a", t0.Add(2*time.Hour+10*time.Minute))
	require.NoError(t, err)
	assert.False(t, dec.Allowed)
	assert.Equal(t, 50, dec.MinutesRemaining)
}

func TestOrderIntervalLimiter_MalformedRecordFailsOpen(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRecordStore()
	require.NoError(t, store.Put(ctx, "a", "not a timestamp"))
	require.NoError(t, store.Put(ctx, "b", ""))

	l := newTestLimiter(store)
	for _, origin := range []string{"a", "b"} {
		dec, err := l.CanPlaceOrder(ctx, origin, t0)
		require.NoError(t, err)
		assert.True(t, dec.Allowed, origin)
	}
}

type fakeTableRepo struct {
	table   map[string]string
	loadErr error
	saves   int
}

func (f *fakeTableRepo) LoadRateLimitTable(context.Context) (map[string]string, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	out := make(map[string]string, len(f.table))
	for k, v := range f.table {
		out[k] = v
	}
	return out, nil
}

func (f *fakeTableRepo) SaveRateLimitTable(_ context.Context, table map[string]string) error {
	f.table = table
	f.loadErr = nil
	f.saves++
	return nil
}

func TestOrderIntervalLimiter_CorruptTableFailsOpen(t *testing.T) {
	ctx := context.Background()
	repo := &fakeTableRepo{loadErr: fmt.Errorf("decode: %w", ErrCorruptRecord)}
	l := newTestLimiter(NewTableRecordStore(repo))

	dec, err := l.CanPlaceOrder(ctx, "a", t0)
	require.NoError(t, err)
	assert.True(t, dec.Allowed)

	require.NoError(t, l.RecordOrder(ctx, "a", t0))
	assert.Equal(t, 1, repo.saves)
	assert.Len(t, repo.table, 1)

	dec, err = l.CanPlaceOrder(ctx, "a", t0.Add(59*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, Decision{MinutesRemaining: 1}, dec)
}

func TestOrderIntervalLimiter_StoreErrorPropagates(t *testing.T) {
	boom := errors.New("disk on fire")
	l := newTestLimiter(NewTableRecordStore(&fakeTableRepo{loadErr: boom}))

	_, err := l.CanPlaceOrder(context.Background(), "a", t0)
	assert.ErrorIs(t, err, boom)
}

func TestTableRecordStore_PreservesOtherOrigins(t *testing.T) {
	ctx := context.Background()
	repo := &fakeTableRepo{table: map[string]string{"x": "2025-01-01 00:00:00"}}
	store := NewTableRecordStore(repo)

	require.NoError(t, store.Put(ctx, "y", "2025-01-02 00:00:00"))
	assert.Equal(t, map[string]string{"x": "2025-01-01 00:00:00", "y": "2025-01-02 00:00:00"}, repo.table)

	raw, found, err := store.Get(ctx, "x")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "2025-01-01 00:00:00", raw)
}
