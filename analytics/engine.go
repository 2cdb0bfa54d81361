package analytics

import (
	"context"
	"log/slog"
	"sync"

	"road-telemetry-hub/models"
)

// Publisher receives every classified batch, in order, per user.
type Publisher interface {
	Publish(ctx context.Context, records []models.ProcessedAgentData) ([]models.StoredRecord, error)
}

type BatchCallback func(userID int, cls Classification)

type DropCallback func(userID int)

type Config struct {
	BatchSize           int
	Workers             int
	QueueSize           int
	CongestionThreshold int
	OnBatch             BatchCallback
	OnDrop              DropCallback
}

const (
	minWorkers       = 4
	maxWorkers       = 16
	defaultQueueSize = 10000
)

type job struct {
	userID int
	record models.CombinedRecord
	flush  bool
	done   chan struct{}
}

// Engine batches combined records per user and classifies each full batch.
// Records of one user always land on the same worker, so they are processed
// in arrival order.
type Engine struct {
	ctx        context.Context
	publisher  Publisher
	classifier Classifier
	batchSize  int
	onBatch    BatchCallback
	onDrop     DropCallback

	windows map[int]*Window
	mu      sync.RWMutex

	// refs counts the live connections feeding each user.
	refs   map[int]int
	refsMu sync.Mutex

	shards  []chan job
	wg      sync.WaitGroup
	closeMu sync.RWMutex
	closed  bool
}

func NewEngine(ctx context.Context, publisher Publisher, cfg Config) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultExpectedBatch
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	numWorkers := cfg.Workers
	if numWorkers < minWorkers {
		numWorkers = minWorkers
	}
	if numWorkers > maxWorkers {
		numWorkers = maxWorkers
	}

	engine := &Engine{
		ctx:        ctx,
		publisher:  publisher,
		classifier: NewClassifier(cfg.CongestionThreshold),
		batchSize:  cfg.BatchSize,
		onBatch:    cfg.OnBatch,
		onDrop:     cfg.OnDrop,
		windows:    make(map[int]*Window),
		refs:       make(map[int]int),
		shards:     make([]chan job, numWorkers),
	}

	slog.Info("starting analytics workers", "workers", numWorkers, "batch_size", cfg.BatchSize)
	for i := range engine.shards {
		ch := make(chan job, cfg.QueueSize/numWorkers+1)
		engine.shards[i] = ch
		engine.wg.Add(1)
		go engine.processJobs(ch)
	}

	return engine
}

// Submit queues a record without blocking. When the worker queue is full the
// record is dropped.
func (e *Engine) Submit(rec models.CombinedRecord) bool {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed {
		return false
	}

	userID := rec.Agent.UserID
	select {
	case e.shard(userID) <- job{userID: userID, record: rec}:
		return true
	default:
		slog.Warn("analytics queue is full, dropping record", "user_id", userID)
		if e.onDrop != nil {
			e.onDrop(userID)
		}
		return false
	}
}

// Flush publishes the partial batch held for userID after every record
// submitted before it, and waits for that to happen.
func (e *Engine) Flush(userID int) {
	e.closeMu.RLock()
	if e.closed {
		e.closeMu.RUnlock()
		return
	}
	done := make(chan struct{})
	e.shard(userID) <- job{userID: userID, flush: true, done: done}
	e.closeMu.RUnlock()
	<-done
}

// Acquire marks one more connection as feeding userID.
func (e *Engine) Acquire(userID int) {
	e.refsMu.Lock()
	e.refs[userID]++
	e.refsMu.Unlock()
}

// Release drops one connection's hold on userID. The partial batch is
// flushed only when no other connection still feeds the user.
func (e *Engine) Release(userID int) {
	e.refsMu.Lock()
	n := e.refs[userID] - 1
	if n <= 0 {
		delete(e.refs, userID)
	} else {
		e.refs[userID] = n
	}
	e.refsMu.Unlock()

	if n <= 0 {
		e.Flush(userID)
	}
}

// Close stops the workers after the queued records are processed and
// publishes every partial batch.
func (e *Engine) Close() {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return
	}
	e.closed = true
	for _, ch := range e.shards {
		close(ch)
	}
	e.closeMu.Unlock()

	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	for userID, w := range e.windows {
		if batch := w.Drain(); len(batch) > 0 {
			e.publish(userID, batch)
		}
	}
}

func (e *Engine) shard(userID int) chan job {
	idx := userID % len(e.shards)
	if idx < 0 {
		idx = -idx
	}
	return e.shards[idx]
}

func (e *Engine) processJobs(ch chan job) {
	defer e.wg.Done()
	for j := range ch {
		e.process(j)
	}
}

func (e *Engine) process(j job) {
	w := e.window(j.userID)

	if j.flush {
		if batch := w.Drain(); len(batch) > 0 {
			e.publish(j.userID, batch)
		}
		close(j.done)
		return
	}

	if batch, full := w.Add(j.record); full {
		e.publish(j.userID, batch)
	}
}

func (e *Engine) window(userID int) *Window {
	e.mu.RLock()
	w, exists := e.windows[userID]
	e.mu.RUnlock()
	if exists {
		return w
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if w, exists = e.windows[userID]; !exists {
		w = NewWindow(e.batchSize)
		e.windows[userID] = w
	}
	return w
}

func (e *Engine) publish(userID int, batch []models.CombinedRecord) {
	records, cls := ClassifyBatch(e.classifier, batch)

	if e.onBatch != nil {
		e.onBatch(userID, cls)
	}

	if _, err := e.publisher.Publish(e.ctx, records); err != nil {
		slog.Error("failed to publish classified batch", "user_id", userID, "records", len(records), "err", err)
		return
	}
	slog.Debug("published classified batch", "user_id", userID, "records", len(records),
		"bump", cls.Bump, "pothole", cls.Pothole, "traffic_light", cls.TrafficLight)
}

// ClassifyBatch labels a batch of combined records in order.
func ClassifyBatch(c Classifier, batch []models.CombinedRecord) ([]models.ProcessedAgentData, Classification) {
	points := make([]models.Point, len(batch))
	for i, r := range batch {
		points[i] = r.Point()
	}
	cls := c.Classify(points)

	records := make([]models.ProcessedAgentData, len(batch))
	for i, r := range batch {
		records[i] = r.Classified(cls.States[i])
	}
	return records, cls
}
