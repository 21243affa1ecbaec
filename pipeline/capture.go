package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// CaptureOptions tunes the capture loop
type CaptureOptions struct {
	FPS              int           // target frame rate
	SaveEvery        int           // offer every Nth frame to the persist queue
	StreamQuality    int           // JPEG quality for viewers
	Backoff          time.Duration // pause after a failed capture
	ErrorLogThrottle time.Duration // don't log capture errors more often than this
}

// CaptureStats counts capture loop outcomes
type CaptureStats struct {
	Captured       uint64 `json:"captured"`
	CaptureErrors  uint64 `json:"capture_errors"`
	EncodeErrors   uint64 `json:"encode_errors"`
	PersistOffered uint64 `json:"persist_offered"`
	PersistSkipped uint64 `json:"persist_skipped"`
}

// CaptureLoop is the single producer. It pulls frames from the source at a fixed
// rate and feeds both queues without ever blocking on either of them.
type CaptureLoop struct {
	src      FrameSource
	enc      Encoder
	streamQ  *BoundedQueue[*EncodedFrame]
	persistQ *BoundedQueue[*PersistRequest]
	signal   *Signal
	opts     CaptureOptions
	logger   Logger

	lastErrorTime time.Time

	captured       atomic.Uint64
	captureErrors  atomic.Uint64
	encodeErrors   atomic.Uint64
	persistOffered atomic.Uint64
	persistSkipped atomic.Uint64
}

func NewCaptureLoop(src FrameSource, enc Encoder, streamQ *BoundedQueue[*EncodedFrame],
	persistQ *BoundedQueue[*PersistRequest], signal *Signal, opts CaptureOptions, logger Logger) *CaptureLoop {
	if logger == nil {
		logger = nopLogger{}
	}
	if opts.FPS < 1 {
		opts.FPS = DefaultFPS
	}
	if opts.SaveEvery < 1 {
		opts.SaveEvery = DefaultSaveEvery
	}
	return &CaptureLoop{
		src:      src,
		enc:      enc,
		streamQ:  streamQ,
		persistQ: persistQ,
		signal:   signal,
		opts:     opts,
		logger:   logger,
	}
}

// Run captures until the signal fires. Capture failures never end the loop.
func (c *CaptureLoop) Run() {
	period := time.Second / time.Duration(c.opts.FPS)
	var count uint64

	c.logger.Printf("Capture loop started: %d FPS, saving every %d frames", c.opts.FPS, c.opts.SaveEvery)
	defer c.logger.Printf("Capture loop stopped after %d frames", c.captured.Load())

	next := time.Now()
	for !c.signal.Fired() {
		frame, err := c.src.Capture()
		if err != nil {
			c.captureErrors.Add(1)
			if time.Since(c.lastErrorTime) > c.opts.ErrorLogThrottle {
				c.logger.Printf("Capture error: %v", err)
				c.lastErrorTime = time.Now()
			}
			if c.signal.Wait(c.opts.Backoff) {
				return
			}
			next = time.Now()
			continue
		}

		if frame.Timestamp.IsZero() {
			frame.Timestamp = time.Now()
		}
		frame.Timestamp = frame.Timestamp.Truncate(time.Microsecond)
		frame.Seq = count
		frame.TraceID = uuid.NewString()
		c.captured.Add(1)

		c.publishStream(frame)
		if count%uint64(c.opts.SaveEvery) == 0 {
			c.offerPersist(frame)
		}
		count++

		// Schedule against the previous deadline; if we fell more than a
		// period behind, restart the schedule instead of bursting.
		next = next.Add(period)
		wait := time.Until(next)
		if wait < -period {
			next = time.Now()
			wait = 0
		}
		if c.signal.Wait(wait) {
			return
		}
	}
}

func (c *CaptureLoop) publishStream(frame *Frame) {
	encoded, err := c.enc.Encode(frame, c.opts.StreamQuality)
	if err != nil {
		c.encodeErrors.Add(1)
		c.logger.Debugf("Stream encode failed for frame %d: %v", frame.Seq, err)
		return
	}
	// DropOldest: viewers get the newest frame, the queue evicts the stalest
	c.streamQ.TryPush(encoded)
}

func (c *CaptureLoop) offerPersist(frame *Frame) {
	c.persistOffered.Add(1)
	if !c.persistQ.TryPush(NewPersistRequest(frame.Clone())) {
		c.persistSkipped.Add(1)
		c.logger.Debugf("Persist queue full, skipping frame %d", frame.Seq)
	}
}

// Stats returns a snapshot of the counters
func (c *CaptureLoop) Stats() CaptureStats {
	return CaptureStats{
		Captured:       c.captured.Load(),
		CaptureErrors:  c.captureErrors.Load(),
		EncodeErrors:   c.encodeErrors.Load(),
		PersistOffered: c.persistOffered.Load(),
		PersistSkipped: c.persistSkipped.Load(),
	}
}
