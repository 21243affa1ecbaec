package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultFPS                  = 10
	DefaultSaveEvery            = 10
	DefaultStreamQuality        = 60
	DefaultPersistQuality       = 90
	DefaultStreamQueueCapacity  = 10
	DefaultPersistQueueCapacity = 50
	DefaultViewerQueueCapacity  = 3
	DefaultOpenAttempts         = 3

	DefaultPopTimeout       = time.Second
	DefaultCaptureBackoff   = 500 * time.Millisecond
	DefaultShutdownGrace    = 3 * time.Second
	DefaultOpenRetryDelay   = time.Second
	DefaultErrorLogThrottle = 5 * time.Second
)

// ErrCameraInit is returned by Start when the frame source cannot be brought up
var ErrCameraInit = errors.New("camera initialization failed")

// Options configures a Pipeline
type Options struct {
	FPS                  int
	SaveEvery            int
	StreamQuality        int
	PersistQuality       int
	StreamQueueCapacity  int
	PersistQueueCapacity int
	ViewerQueueCapacity  int
	Resolution           Resolution
	PixelFormat          PixelFormat

	OpenAttempts     int
	OpenRetryDelay   time.Duration // grows linearly with each attempt
	PopTimeout       time.Duration
	CaptureBackoff   time.Duration
	ShutdownGrace    time.Duration
	ErrorLogThrottle time.Duration
}

func DefaultOptions() Options {
	return Options{
		FPS:                  DefaultFPS,
		SaveEvery:            DefaultSaveEvery,
		StreamQuality:        DefaultStreamQuality,
		PersistQuality:       DefaultPersistQuality,
		StreamQueueCapacity:  DefaultStreamQueueCapacity,
		PersistQueueCapacity: DefaultPersistQueueCapacity,
		ViewerQueueCapacity:  DefaultViewerQueueCapacity,
		Resolution:           Resolution{Width: 640, Height: 480},
		PixelFormat:          FormatMJPEG,
		OpenAttempts:         DefaultOpenAttempts,
		OpenRetryDelay:       DefaultOpenRetryDelay,
		PopTimeout:           DefaultPopTimeout,
		CaptureBackoff:       DefaultCaptureBackoff,
		ShutdownGrace:        DefaultShutdownGrace,
		ErrorLogThrottle:     DefaultErrorLogThrottle,
	}
}

// Validate rejects option sets the pipeline cannot run with
func (o Options) Validate() error {
	switch {
	case o.FPS < 1:
		return fmt.Errorf("fps must be positive, got %d", o.FPS)
	case o.SaveEvery < 1:
		return fmt.Errorf("save_every_n must be positive, got %d", o.SaveEvery)
	case o.StreamQuality < 1 || o.StreamQuality > 100:
		return fmt.Errorf("stream quality must be 1-100, got %d", o.StreamQuality)
	case o.PersistQuality < 1 || o.PersistQuality > 100:
		return fmt.Errorf("persist quality must be 1-100, got %d", o.PersistQuality)
	case o.StreamQueueCapacity < 1 || o.PersistQueueCapacity < 1 || o.ViewerQueueCapacity < 1:
		return fmt.Errorf("queue capacities must be positive")
	case o.OpenAttempts < 1:
		return fmt.Errorf("open attempts must be positive, got %d", o.OpenAttempts)
	case o.PopTimeout <= 0:
		return fmt.Errorf("pop timeout must be positive")
	}
	return nil
}

// Stats is a point-in-time view of the whole pipeline
type Stats struct {
	CameraReady     bool         `json:"camera_initialized"`
	Viewers         int          `json:"viewers"`
	Capture         CaptureStats `json:"capture"`
	Persist         PersistStats `json:"persist"`
	StreamQueue     QueueStats   `json:"stream_queue"`
	StreamQueueLen  int          `json:"stream_queue_len"`
	PersistQueue    QueueStats   `json:"persist_queue"`
	PersistQueueLen int          `json:"persist_queue_len"`
}

// Pipeline owns the frame source, both queues, the workers and the shutdown
// signal. One owner creates it and injects its parts; there is no global state.
type Pipeline struct {
	opts   Options
	src    FrameSource
	logger Logger

	signal      *Signal
	streamQ     *BoundedQueue[*EncodedFrame]
	persistQ    *BoundedQueue[*PersistRequest]
	capture     *CaptureLoop
	persist     *PersistWorker
	broadcaster *Broadcaster
	captureDone chan struct{}

	ready        atomic.Bool
	started      atomic.Bool
	srcMu        sync.Mutex
	srcOpen      bool
	srcStarted   bool
	startOnce    sync.Once
	shutdownOnce sync.Once
}

// New wires a pipeline. Nothing runs until Start.
func New(opts Options, src FrameSource, enc Encoder, store Store, logger Logger, observers ...SaveObserver) (*Pipeline, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline options: %w", err)
	}
	if src == nil || enc == nil || store == nil {
		return nil, errors.New("pipeline requires a frame source, an encoder and a store")
	}
	if logger == nil {
		logger = nopLogger{}
	}

	p := &Pipeline{
		opts:        opts,
		src:         src,
		logger:      logger,
		signal:      NewSignal(),
		streamQ:     NewBoundedQueue[*EncodedFrame](opts.StreamQueueCapacity, DropOldest),
		persistQ:    NewBoundedQueue[*PersistRequest](opts.PersistQueueCapacity, DropNewest),
		captureDone: make(chan struct{}),
	}

	p.capture = NewCaptureLoop(src, enc, p.streamQ, p.persistQ, p.signal, CaptureOptions{
		FPS:              opts.FPS,
		SaveEvery:        opts.SaveEvery,
		StreamQuality:    opts.StreamQuality,
		Backoff:          opts.CaptureBackoff,
		ErrorLogThrottle: opts.ErrorLogThrottle,
	}, logger)

	p.persist = NewPersistWorker(p.persistQ, enc, store, p.signal, PersistOptions{
		Quality:    opts.PersistQuality,
		PopTimeout: opts.PopTimeout,
		Grace:      opts.ShutdownGrace,
	}, logger, observers...)

	p.broadcaster = NewBroadcaster(p.streamQ, p.signal, opts.PopTimeout, opts.ViewerQueueCapacity, logger)

	return p, nil
}

// Start brings the camera up (retrying with increasing delay) and launches the
// workers. A camera that cannot be initialized is fatal: the error wraps
// ErrCameraInit and the device has already been released.
func (p *Pipeline) Start(ctx context.Context) error {
	var err error
	p.startOnce.Do(func() {
		if err = p.openSource(ctx); err != nil {
			p.releaseSource()
			err = fmt.Errorf("%w: %v", ErrCameraInit, err)
			return
		}
		p.ready.Store(true)
		p.started.Store(true)

		go func() {
			defer close(p.captureDone)
			p.capture.Run()
		}()
		go p.persist.Run()
		go p.broadcaster.Run()

		go func() {
			select {
			case <-ctx.Done():
				p.Shutdown()
			case <-p.signal.Done():
			}
		}()
	})
	return err
}

func (p *Pipeline) openSource(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= p.opts.OpenAttempts; attempt++ {
		if lastErr = p.bringUp(); lastErr == nil {
			p.logger.Printf("Camera initialized: %s %s", p.opts.Resolution, p.opts.PixelFormat)
			return nil
		}
		p.logger.Printf("Camera init attempt %d/%d failed: %v", attempt, p.opts.OpenAttempts, lastErr)
		p.releaseSource()

		if attempt == p.opts.OpenAttempts {
			break
		}
		delay := time.Duration(attempt) * p.opts.OpenRetryDelay
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.signal.Done():
			return errors.New("shutdown during camera initialization")
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", p.opts.OpenAttempts, lastErr)
}

func (p *Pipeline) bringUp() error {
	p.srcMu.Lock()
	defer p.srcMu.Unlock()

	if err := p.src.Open(); err != nil {
		return fmt.Errorf("open: %w", err)
	}
	p.srcOpen = true

	if err := p.src.Configure(p.opts.Resolution, p.opts.PixelFormat); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	if err := p.src.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	p.srcStarted = true
	return nil
}

// releaseSource stops and closes the device if it is open. Each successful
// Open is matched by exactly one Close.
func (p *Pipeline) releaseSource() {
	p.srcMu.Lock()
	defer p.srcMu.Unlock()

	if p.srcStarted {
		if err := p.src.Stop(); err != nil {
			p.logger.Printf("Camera stop error: %v", err)
		}
		p.srcStarted = false
	}
	if p.srcOpen {
		if err := p.src.Close(); err != nil {
			p.logger.Printf("Camera close error: %v", err)
		}
		p.srcOpen = false
	}
}

// Shutdown runs the ordered shutdown once: signal, queues closed, capture loop
// stopped, persist worker given its grace period, camera released. Errors are
// logged and never interrupt the sequence.
func (p *Pipeline) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.logger.Printf("Shutting down pipeline...")

		p.signal.Fire()
		p.streamQ.Close()
		p.persistQ.Close()

		if p.started.Load() {
			wait := p.opts.PopTimeout + p.opts.CaptureBackoff
			if !waitFor(p.captureDone, wait) {
				p.logger.Printf("[WARN] Capture loop still busy after %v, releasing camera anyway", wait)
			}
			if !waitFor(p.persist.Done(), p.opts.ShutdownGrace+p.opts.PopTimeout) {
				p.logger.Printf("[WARN] Persist worker did not finish within grace period")
			}
			waitFor(p.broadcaster.Done(), p.opts.PopTimeout)
		}

		if n := len(p.streamQ.Drain()); n > 0 {
			p.logger.Debugf("Discarded %d undelivered stream frames", n)
		}

		p.ready.Store(false)
		p.releaseSource()
		p.logger.Printf("Pipeline stopped")
	})
}

func waitFor(done <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

// CameraReady reports whether the camera is initialized and capturing
func (p *Pipeline) CameraReady() bool {
	return p.ready.Load()
}

// Signal exposes the shutdown signal for components that must observe it
func (p *Pipeline) Signal() *Signal {
	return p.signal
}

// NewSession registers a viewer
func (p *Pipeline) NewSession() *Session {
	return p.broadcaster.NewSession()
}

// LatestFrame returns the newest stream frame, or nil before the first capture
func (p *Pipeline) LatestFrame() *EncodedFrame {
	return p.broadcaster.Latest()
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		CameraReady:     p.CameraReady(),
		Viewers:         p.broadcaster.Viewers(),
		Capture:         p.capture.Stats(),
		Persist:         p.persist.Stats(),
		StreamQueue:     p.streamQ.Stats(),
		StreamQueueLen:  p.streamQ.Len(),
		PersistQueue:    p.persistQ.Stats(),
		PersistQueueLen: p.persistQ.Len(),
	}
}
