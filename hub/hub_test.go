package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"road-telemetry-hub/models"
)

type fakeStore struct {
	mu     sync.Mutex
	nextID int64
	rows   []models.StoredRecord
	err    error
}

func (s *fakeStore) Create(_ context.Context, items []models.ProcessedAgentData) ([]models.StoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]models.StoredRecord, 0, len(items))
	for _, it := range items {
		s.nextID++
		rec := models.NewStoredRecord(it, time.Now())
		rec.ID = s.nextID
		out = append(out, rec)
	}
	s.rows = append(s.rows, out...)
	return out, nil
}

type fakeSubscriber struct {
	id     string
	mu     sync.Mutex
	got    [][]byte
	err    error
	closed bool
}

func (f *fakeSubscriber) ID() string { return f.id }

func (f *fakeSubscriber) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, p)
	return nil
}

func (f *fakeSubscriber) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSubscriber) payloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.got...)
}

type fakeCache struct {
	mu     sync.Mutex
	latest map[int][]models.StoredRecord
}

func (c *fakeCache) SaveLatest(_ context.Context, userID int, records []models.StoredRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		c.latest = map[int][]models.StoredRecord{}
	}
	c.latest[userID] = records
	return nil
}

// stallingCache blocks every write until its context ends.
type stallingCache struct {
	calls atomic.Int32
}

func (c *stallingCache) SaveLatest(ctx context.Context, _ int, _ []models.StoredRecord) error {
	c.calls.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func processed(user int, state models.RoadState) models.ProcessedAgentData {
	return models.ProcessedAgentData{
		RoadState: state,
		AgentData: models.AgentData{
			UserID:    user,
			GPS:       models.GpsData{Latitude: 50.4, Longitude: 30.5},
			Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		TrafficData: models.TrafficData{VehicleCount: 1},
	}
}

func TestPublishWithoutSubscribersPersists(t *testing.T) {
	st := &fakeStore{}
	h := New(st, NewRegistry(nil), nil)

	stored, err := h.Publish(context.Background(), []models.ProcessedAgentData{processed(1, models.RoadNormal)})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Len(t, st.rows, 1)
}

func TestPublishPushesToUserSubscribers(t *testing.T) {
	reg := NewRegistry(nil)
	cache := &fakeCache{}
	h := New(&fakeStore{}, reg, cache)

	a1 := &fakeSubscriber{id: "a1"}
	a2 := &fakeSubscriber{id: "a2"}
	b := &fakeSubscriber{id: "b"}
	reg.Register(1, a1)
	reg.Register(1, a2)
	reg.Register(2, b)

	_, err := h.Publish(context.Background(), []models.ProcessedAgentData{
		processed(1, models.RoadBump),
		processed(2, models.RoadPothole),
		processed(1, models.RoadNormal),
	})
	require.NoError(t, err)

	for _, s := range []*fakeSubscriber{a1, a2} {
		got := s.payloads()
		require.Len(t, got, 1)
		var records []models.ProcessedAgentData
		require.NoError(t, json.Unmarshal(got[0], &records))
		require.Len(t, records, 2)
		assert.Equal(t, models.RoadBump, records[0].RoadState)
		assert.Equal(t, models.RoadNormal, records[1].RoadState)
	}
	require.Len(t, b.payloads(), 1)

	h.Close()
	assert.Len(t, cache.latest[1], 2)
	assert.Len(t, cache.latest[2], 1)
}

func TestPublishIsolatesFailingSubscriber(t *testing.T) {
	reg := NewRegistry(nil)
	h := New(&fakeStore{}, reg, nil)
	failures := 0
	h.OnPushFailure(func() { failures++ })

	bad := &fakeSubscriber{id: "bad", err: ErrSubscriberClosed}
	good := &fakeSubscriber{id: "good"}
	reg.Register(1, bad)
	reg.Register(1, good)

	stored, err := h.Publish(context.Background(), []models.ProcessedAgentData{processed(1, models.RoadNormal)})
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	assert.Len(t, good.payloads(), 1)
	assert.True(t, bad.closed)
	assert.Equal(t, 1, reg.Count(1))
	assert.Equal(t, 1, failures)
}

func TestPublishPersistenceFailurePushesNothing(t *testing.T) {
	reg := NewRegistry(nil)
	h := New(&fakeStore{err: errors.New("disk full")}, reg, nil)
	s := &fakeSubscriber{id: "s"}
	reg.Register(1, s)

	_, err := h.Publish(context.Background(), []models.ProcessedAgentData{processed(1, models.RoadNormal)})
	require.Error(t, err)
	assert.Empty(t, s.payloads())
}

func TestPublishEmpty(t *testing.T) {
	st := &fakeStore{}
	h := New(st, NewRegistry(nil), nil)
	stored, err := h.Publish(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestRegistryUnregisterIdempotent(t *testing.T) {
	var totals []int64
	reg := NewRegistry(func(total int64) { totals = append(totals, total) })
	s := &fakeSubscriber{id: "s"}

	assert.False(t, reg.Unregister(1, s))
	reg.Register(1, s)
	reg.Register(1, s)
	assert.Equal(t, 1, reg.Count(1))
	assert.True(t, reg.Unregister(1, s))
	assert.False(t, reg.Unregister(1, s))
	assert.Equal(t, 0, reg.Count(1))
	assert.Equal(t, []int64{1, 0}, totals)
}

func TestRegistryConcurrentMutation(t *testing.T) {
	reg := NewRegistry(nil)
	h := New(&fakeStore{}, reg, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s := &fakeSubscriber{id: fmt.Sprint(i)}
			reg.Register(i%3, s)
			reg.Unregister(i%3, s)
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := h.Publish(context.Background(), []models.ProcessedAgentData{processed(i%3, models.RoadNormal)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(0), reg.Total())
}

func TestRegistryCloseAll(t *testing.T) {
	reg := NewRegistry(nil)
	a := &fakeSubscriber{id: "a"}
	b := &fakeSubscriber{id: "b"}
	reg.Register(1, a)
	reg.Register(2, b)

	reg.CloseAll()
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Equal(t, int64(0), reg.Total())
	assert.Empty(t, reg.Subscribers(1))
}

func TestPublishDoesNotWaitForSlowCache(t *testing.T) {
	reg := NewRegistry(nil)
	cache := &stallingCache{}
	h := New(&fakeStore{}, reg, cache)
	s := &fakeSubscriber{id: "s"}
	reg.Register(1, s)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	begin := time.Now()
	for i := 0; i < 3; i++ {
		_, err := h.Publish(ctx, []models.ProcessedAgentData{processed(1, models.RoadNormal)})
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(begin), 100*time.Millisecond)
	assert.Len(t, s.payloads(), 3)

	require.Eventually(t, func() bool { return cache.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestCloseDrainsCacheWrites(t *testing.T) {
	cache := &fakeCache{}
	h := New(&fakeStore{}, NewRegistry(nil), cache)

	_, err := h.Publish(context.Background(), []models.ProcessedAgentData{processed(5, models.RoadBump)})
	require.NoError(t, err)
	h.Close()
	h.Close()

	cache.mu.Lock()
	assert.Len(t, cache.latest[5], 1)
	cache.mu.Unlock()

	// Publishing after Close still persists and pushes.
	_, err = h.Publish(context.Background(), []models.ProcessedAgentData{processed(5, models.RoadNormal)})
	assert.NoError(t, err)
}
