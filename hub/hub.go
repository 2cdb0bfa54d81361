package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"road-telemetry-hub/models"
)

var ErrSubscriberClosed = errors.New("subscriber closed")

const (
	// cacheTimeout bounds the latest-cache writes of one batch.
	cacheTimeout   = 2 * time.Second
	cacheQueueSize = 256
)

type cacheJob struct {
	order  []int
	groups map[int][]models.StoredRecord
}

type Store interface {
	Create(ctx context.Context, items []models.ProcessedAgentData) ([]models.StoredRecord, error)
}

type LatestCache interface {
	SaveLatest(ctx context.Context, userID int, records []models.StoredRecord) error
}

type Hub struct {
	store     Store
	registry  *Registry
	cache     LatestCache
	onFailure func()

	cacheQ    chan cacheJob
	cacheDone chan struct{}
	closeMu   sync.RWMutex
	closed    bool
}

// New returns a hub persisting to store and pushing to the subscribers in
// registry. cache may be nil; when set, it is written by one background
// worker in publish order.
func New(store Store, registry *Registry, cache LatestCache) *Hub {
	h := &Hub{
		store:     store,
		registry:  registry,
		cache:     cache,
		cacheDone: make(chan struct{}),
	}
	if cache == nil {
		close(h.cacheDone)
		return h
	}
	h.cacheQ = make(chan cacheJob, cacheQueueSize)
	go h.cacheWriter()
	return h
}

// OnPushFailure installs a callback run for every failed push.
func (h *Hub) OnPushFailure(f func()) {
	h.onFailure = f
}

func (h *Hub) Registry() *Registry {
	return h.registry
}

// Publish persists records in one transaction and then pushes them, grouped
// per user, to every registered subscriber. Nothing is pushed when
// persistence fails. Push failures never fail the call. The latest cache is
// refreshed in the background after the push.
func (h *Hub) Publish(ctx context.Context, records []models.ProcessedAgentData) ([]models.StoredRecord, error) {
	if len(records) == 0 {
		return []models.StoredRecord{}, nil
	}

	stored, err := h.store.Create(ctx, records)
	if err != nil {
		return nil, err
	}

	order, groups := groupByUser(records)
	for _, userID := range order {
		h.Push(userID, groups[userID])
	}

	if h.cache != nil {
		_, storedGroups := groupStoredByUser(stored)
		h.enqueueCache(cacheJob{order: order, groups: storedGroups})
	}
	return stored, nil
}

func (h *Hub) enqueueCache(job cacheJob) {
	h.closeMu.RLock()
	defer h.closeMu.RUnlock()
	if h.closed {
		return
	}
	select {
	case h.cacheQ <- job:
	default:
		slog.Warn("latest cache queue is full, skipping update", "users", len(job.order))
	}
}

func (h *Hub) cacheWriter() {
	defer close(h.cacheDone)
	for job := range h.cacheQ {
		ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
		for _, userID := range job.order {
			if err := h.cache.SaveLatest(ctx, userID, job.groups[userID]); err != nil {
				slog.Warn("failed to cache latest records", "user_id", userID, "err", err)
			}
		}
		cancel()
	}
}

// Close stops the cache writer after the queued updates are written.
func (h *Hub) Close() {
	h.closeMu.Lock()
	if !h.closed {
		h.closed = true
		if h.cacheQ != nil {
			close(h.cacheQ)
		}
	}
	h.closeMu.Unlock()
	<-h.cacheDone
}

// Push sends records to the user's subscribers and returns how many
// accepted them. Subscribers that fail are unregistered and closed.
func (h *Hub) Push(userID int, records []models.ProcessedAgentData) int {
	subs := h.registry.Subscribers(userID)
	if len(subs) == 0 {
		return 0
	}

	payload, err := json.Marshal(records)
	if err != nil {
		slog.Error("failed to encode records", "user_id", userID, "err", err)
		return 0
	}

	delivered := 0
	for _, s := range subs {
		if err := s.Send(payload); err != nil {
			slog.Warn("dropping subscriber after failed push", "user_id", userID, "conn", s.ID(), "err", err)
			if h.registry.Unregister(userID, s) {
				_ = s.Close()
			}
			if h.onFailure != nil {
				h.onFailure()
			}
			continue
		}
		delivered++
	}
	return delivered
}

func groupByUser(records []models.ProcessedAgentData) ([]int, map[int][]models.ProcessedAgentData) {
	var order []int
	groups := make(map[int][]models.ProcessedAgentData)
	for _, r := range records {
		id := r.AgentData.UserID
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], r)
	}
	return order, groups
}

func groupStoredByUser(records []models.StoredRecord) ([]int, map[int][]models.StoredRecord) {
	var order []int
	groups := make(map[int][]models.StoredRecord)
	for _, r := range records {
		if _, ok := groups[r.UserID]; !ok {
			order = append(order, r.UserID)
		}
		groups[r.UserID] = append(groups[r.UserID], r)
	}
	return order, groups
}
