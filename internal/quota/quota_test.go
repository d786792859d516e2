package quota

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	buckets map[int64]*Usage
	err     error
}

func newMemStore(buckets ...Usage) *memStore {
	s := &memStore{buckets: make(map[int64]*Usage)}
	for i := range buckets {
		b := buckets[i]
		s.buckets[b.BucketID] = &b
	}
	return s
}

func (s *memStore) BucketUsage(_ context.Context, id int64) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Usage{}, s.err
	}
	return *s.buckets[id], nil
}

func (s *memStore) AddUsedMB(_ context.Context, id, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[id].UsedMB += delta
	return nil
}

func (s *memStore) SubtractUsedMB(_ context.Context, id, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[id].UsedMB = max(s.buckets[id].UsedMB-delta, 0)
	return nil
}

func (s *memStore) AddUsedMBWithin(_ context.Context, id, delta int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.buckets[id]
	if b.UsedMB+delta > b.AllottedMB {
		return false, nil
	}
	b.UsedMB += delta
	return true, nil
}

func (s *memStore) used(id int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buckets[id].UsedMB
}

func TestRequiredMB(t *testing.T) {
	tests := []struct {
		bytes int64
		want  int64
	}{
		{0, 0},
		{-5, 0},
		{1, 1},
		{1048576, 1},
		{1048577, 2},
		{5_000_000, 5},
		{10 * 1048576, 10},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, RequiredMB(tt.bytes), "RequiredMB(%d)", tt.bytes)
	}
}

func TestReserveAdvisory(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(Usage{BucketID: 1, AllottedMB: 1000, UsedMB: 995})
	ledger := NewLedger(store, false)

	r, err := ledger.Reserve(ctx, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(995), store.used(1), "advisory reserve must not touch usage")

	_, err = ledger.Reserve(ctx, 1, 10)
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, int64(10), exceeded.RequiredMB)
	assert.Equal(t, int64(5), exceeded.AvailableMB)
	assert.Equal(t, int64(1000), exceeded.TotalMB)
	assert.Equal(t, 99.5, exceeded.UsagePercent)

	require.NoError(t, ledger.Commit(ctx, r, 5))
	assert.Equal(t, int64(1000), store.used(1))
}

func TestReserveStrictHoldsSpace(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(Usage{BucketID: 1, AllottedMB: 100, UsedMB: 90})
	ledger := NewLedger(store, true)
	require.True(t, ledger.Strict())

	r, err := ledger.Reserve(ctx, 1, 8)
	require.NoError(t, err)
	assert.Equal(t, int64(98), store.used(1))

	_, err = ledger.Reserve(ctx, 1, 8)
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, int64(2), exceeded.AvailableMB)

	// actual size smaller than the estimate gives back the difference
	require.NoError(t, ledger.Commit(ctx, r, 5))
	assert.Equal(t, int64(95), store.used(1))
}

func TestStrictCommitLargerThanHeld(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(Usage{BucketID: 1, AllottedMB: 100})
	ledger := NewLedger(store, true)

	r, err := ledger.Reserve(ctx, 1, 3)
	require.NoError(t, err)
	require.NoError(t, ledger.Commit(ctx, r, 7))
	assert.Equal(t, int64(7), store.used(1))
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	strictStore := newMemStore(Usage{BucketID: 1, AllottedMB: 100, UsedMB: 10})
	strict := NewLedger(strictStore, true)
	r, err := strict.Reserve(ctx, 1, 20)
	require.NoError(t, err)
	require.NoError(t, strict.Cancel(ctx, r))
	assert.Equal(t, int64(10), strictStore.used(1))

	advisoryStore := newMemStore(Usage{BucketID: 1, AllottedMB: 100, UsedMB: 10})
	advisory := NewLedger(advisoryStore, false)
	r, err = advisory.Reserve(ctx, 1, 20)
	require.NoError(t, err)
	require.NoError(t, advisory.Cancel(ctx, r))
	assert.Equal(t, int64(10), advisoryStore.used(1))
}

func TestStrictReservationsNeverOvercommit(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(Usage{BucketID: 1, AllottedMB: 50})
	ledger := NewLedger(store, true)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Reserve(ctx, 1, 10); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, granted)
	assert.Equal(t, int64(50), store.used(1))
}

func TestReleaseClampsAtZero(t *testing.T) {
	ctx := context.Background()
	store := newMemStore(Usage{BucketID: 1, AllottedMB: 1000, UsedMB: 3})
	ledger := NewLedger(store, false)

	require.NoError(t, ledger.Release(ctx, 1, 10))
	assert.Equal(t, int64(0), store.used(1))

	require.NoError(t, ledger.Release(ctx, 1, 0))
	assert.Equal(t, int64(0), store.used(1))
}

func TestInfo(t *testing.T) {
	store := newMemStore(Usage{BucketID: 4, AllottedMB: 1000, UsedMB: 250})
	info, err := NewLedger(store, false).Info(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, Info{TotalMB: 1000, UsedMB: 250, AvailableMB: 750, UsagePercent: 25}, info)

	over := newMemStore(Usage{BucketID: 4, AllottedMB: 100, UsedMB: 120})
	info, err = NewLedger(over, false).Info(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.AvailableMB)
}

func TestStoreErrorsPropagate(t *testing.T) {
	store := newMemStore(Usage{BucketID: 1, AllottedMB: 10})
	store.err = errors.New("database is locked")

	_, err := NewLedger(store, false).Reserve(context.Background(), 1, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.err)
}

func TestResume(t *testing.T) {
	store := newMemStore(Usage{BucketID: 1, AllottedMB: 100, UsedMB: 40})
	ctx := context.Background()

	strict := NewLedger(store, true)
	r := strict.Resume(1, 30)
	require.NoError(t, strict.Commit(ctx, r, 10))
	assert.Equal(t, int64(20), store.buckets[1].UsedMB, "held 30 settled down to 10")

	advisory := NewLedger(store, false)
	require.NoError(t, advisory.Commit(ctx, advisory.Resume(1, 30), 10))
	assert.Equal(t, int64(30), store.buckets[1].UsedMB)
}
