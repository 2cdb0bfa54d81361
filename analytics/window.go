package analytics

import (
	"sync"

	"road-telemetry-hub/models"
)

// Window collects combined records into fixed-size batches.
type Window struct {
	mu      sync.Mutex
	size    int
	records []models.CombinedRecord
}

func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{
		size:    size,
		records: make([]models.CombinedRecord, 0, size),
	}
}

// Add appends r and returns the completed batch once the window is full.
// The window starts empty again after returning a batch.
func (w *Window) Add(r models.CombinedRecord) ([]models.CombinedRecord, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.records = append(w.records, r)
	if len(w.records) < w.size {
		return nil, false
	}
	return w.take(), true
}

// Drain returns whatever partial batch is held and empties the window.
func (w *Window) Drain() []models.CombinedRecord {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.records) == 0 {
		return nil
	}
	return w.take()
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.records)
}

func (w *Window) take() []models.CombinedRecord {
	batch := w.records
	w.records = make([]models.CombinedRecord, 0, w.size)
	return batch
}
