package pipeline

import (
	"sync/atomic"
	"time"
)

// PersistOptions tunes the persist worker
type PersistOptions struct {
	Quality    int           // JPEG quality for stored captures
	PopTimeout time.Duration // how long one Pop may block before the signal is rechecked
	Grace      time.Duration // drain budget once shutdown fires
}

// PersistStats counts persist worker outcomes
type PersistStats struct {
	Saved     uint64 `json:"saved"`
	Failed    uint64 `json:"failed"`
	Abandoned uint64 `json:"abandoned"`
}

// PersistWorker is the only consumer of the persist queue and the only
// goroutine that writes captures to storage.
type PersistWorker struct {
	q         *BoundedQueue[*PersistRequest]
	enc       Encoder
	store     Store
	signal    *Signal
	opts      PersistOptions
	logger    Logger
	observers []SaveObserver
	done      chan struct{}

	saved     atomic.Uint64
	failed    atomic.Uint64
	abandoned atomic.Uint64
}

func NewPersistWorker(q *BoundedQueue[*PersistRequest], enc Encoder, store Store, signal *Signal,
	opts PersistOptions, logger Logger, observers ...SaveObserver) *PersistWorker {
	if logger == nil {
		logger = nopLogger{}
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = DefaultPopTimeout
	}
	return &PersistWorker{
		q:         q,
		enc:       enc,
		store:     store,
		signal:    signal,
		opts:      opts,
		logger:    logger,
		observers: observers,
		done:      make(chan struct{}),
	}
}

// Run consumes the persist queue until it is closed and empty, or until the
// grace period after shutdown runs out. Write failures are logged and skipped.
func (w *PersistWorker) Run() {
	defer close(w.done)

	var deadline time.Time
	for {
		timeout := w.opts.PopTimeout
		if w.signal.Fired() {
			if deadline.IsZero() {
				deadline = time.Now().Add(w.opts.Grace)
				if n := w.q.Len(); n > 0 {
					w.logger.Printf("Persist worker draining %d queued captures (grace %v)", n, w.opts.Grace)
				}
			}
			remaining := time.Until(deadline)
			if remaining <= 0 {
				if n := len(w.q.Drain()); n > 0 {
					w.abandoned.Add(uint64(n))
					w.logger.Printf("Persist grace period expired, abandoned %d captures", n)
				}
				return
			}
			if remaining < timeout {
				timeout = remaining
			}
		}

		req, ok := w.q.Pop(timeout)
		if !ok {
			if w.q.Closed() && w.q.Len() == 0 {
				return
			}
			continue
		}
		w.save(req)
	}
}

func (w *PersistWorker) save(req *PersistRequest) {
	name := req.Filename()

	encoded, err := w.enc.Encode(req.Frame, w.opts.Quality)
	if err != nil {
		w.failed.Add(1)
		w.logger.Printf("Failed to encode capture %s: %v", name, err)
		return
	}

	path, err := w.store.Write(name, encoded.Data)
	if err != nil {
		w.failed.Add(1)
		w.logger.Printf("Failed to save capture %s: %v", name, err)
		return
	}

	w.saved.Add(1)
	w.logger.Printf("Saved capture %s (%d bytes)", name, len(encoded.Data))

	saved := SavedCapture{
		Path:       path,
		Name:       name,
		Seq:        req.Frame.Seq,
		TraceID:    req.Frame.TraceID,
		CapturedAt: req.Frame.Timestamp,
		Size:       len(encoded.Data),
	}
	for _, o := range w.observers {
		o.CaptureSaved(saved)
	}
}

// Done is closed when Run returns
func (w *PersistWorker) Done() <-chan struct{} {
	return w.done
}

// Stats returns a snapshot of the counters
func (w *PersistWorker) Stats() PersistStats {
	return PersistStats{
		Saved:     w.saved.Load(),
		Failed:    w.failed.Load(),
		Abandoned: w.abandoned.Load(),
	}
}
