package pipeline

import (
	"testing"
	"time"
)

func runCapture(t *testing.T, loop *CaptureLoop) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run()
	}()
	if !closedWithin(done, 5*time.Second) {
		t.Fatal("capture loop did not stop")
	}
}

func TestCaptureLoop_SamplesEveryNthFrame(t *testing.T) {
	signal := NewSignal()
	src := &fakeSource{limit: 100, onLimit: signal.Fire}
	streamQ := NewBoundedQueue[*EncodedFrame](10, DropOldest)
	persistQ := NewBoundedQueue[*PersistRequest](50, DropNewest)

	loop := NewCaptureLoop(src, &fakeEncoder{}, streamQ, persistQ, signal,
		CaptureOptions{FPS: 1000, SaveEvery: 10, StreamQuality: 60}, nil)
	runCapture(t, loop)

	stats := loop.Stats()
	if stats.Captured != 100 {
		t.Fatalf("Captured = %d, want 100", stats.Captured)
	}
	if stats.PersistOffered != 10 {
		t.Errorf("PersistOffered = %d, want 10", stats.PersistOffered)
	}

	reqs := persistQ.Drain()
	if len(reqs) != 10 {
		t.Fatalf("persist queue holds %d requests, want 10", len(reqs))
	}
	for i, req := range reqs {
		if want := uint64(i * 10); req.Frame.Seq != want {
			t.Errorf("request %d has seq %d, want %d", i, req.Frame.Seq, want)
		}
		if req.Frame.TraceID == "" {
			t.Errorf("request %d has no trace id", i)
		}
	}

	// Stream queue holds the newest frames in capture order
	frames := streamQ.Drain()
	if len(frames) != 10 {
		t.Fatalf("stream queue holds %d frames, want 10", len(frames))
	}
	for i, f := range frames {
		if want := uint64(90 + i); f.Seq != want {
			t.Errorf("stream frame %d has seq %d, want %d", i, f.Seq, want)
		}
	}
}

func TestCaptureLoop_PersistQueueFullSkipsSample(t *testing.T) {
	signal := NewSignal()
	src := &fakeSource{limit: 100, onLimit: signal.Fire}
	streamQ := NewBoundedQueue[*EncodedFrame](10, DropOldest)
	persistQ := NewBoundedQueue[*PersistRequest](2, DropNewest)

	loop := NewCaptureLoop(src, &fakeEncoder{}, streamQ, persistQ, signal,
		CaptureOptions{FPS: 1000, SaveEvery: 10}, nil)
	runCapture(t, loop)

	stats := loop.Stats()
	if stats.PersistOffered != 10 || stats.PersistSkipped != 8 {
		t.Errorf("offered/skipped = %d/%d, want 10/8", stats.PersistOffered, stats.PersistSkipped)
	}

	// The backlog is kept, later samples are the ones dropped
	reqs := persistQ.Drain()
	if len(reqs) != 2 || reqs[0].Frame.Seq != 0 || reqs[1].Frame.Seq != 10 {
		t.Errorf("persist queue kept wrong samples")
	}
}

func TestCaptureLoop_CaptureErrorsAreTransient(t *testing.T) {
	signal := NewSignal()
	logger := &recordingLogger{}
	src := &fakeSource{failFirst: 3, limit: 5, onLimit: signal.Fire}
	streamQ := NewBoundedQueue[*EncodedFrame](10, DropOldest)
	persistQ := NewBoundedQueue[*PersistRequest](10, DropNewest)

	loop := NewCaptureLoop(src, &fakeEncoder{}, streamQ, persistQ, signal,
		CaptureOptions{FPS: 1000, SaveEvery: 1, Backoff: time.Millisecond, ErrorLogThrottle: time.Hour}, logger)
	runCapture(t, loop)

	stats := loop.Stats()
	if stats.CaptureErrors != 3 {
		t.Errorf("CaptureErrors = %d, want 3", stats.CaptureErrors)
	}
	if stats.Captured != 5 {
		t.Errorf("Captured = %d, want 5", stats.Captured)
	}
	if n := logger.count("Capture error"); n != 1 {
		t.Errorf("logged %d capture errors, want 1 (throttled)", n)
	}
}

func TestCaptureLoop_StreamEncodeFailureStillPersists(t *testing.T) {
	signal := NewSignal()
	src := &fakeSource{limit: 20, onLimit: signal.Fire}
	streamQ := NewBoundedQueue[*EncodedFrame](10, DropOldest)
	persistQ := NewBoundedQueue[*PersistRequest](10, DropNewest)

	loop := NewCaptureLoop(src, &fakeEncoder{failQuality: 60}, streamQ, persistQ, signal,
		CaptureOptions{FPS: 1000, SaveEvery: 10, StreamQuality: 60}, nil)
	runCapture(t, loop)

	if streamQ.Len() != 0 {
		t.Errorf("stream queue should be empty, has %d", streamQ.Len())
	}
	if persistQ.Len() != 2 {
		t.Errorf("persist queue has %d requests, want 2", persistQ.Len())
	}
	if s := loop.Stats(); s.EncodeErrors != 20 {
		t.Errorf("EncodeErrors = %d, want 20", s.EncodeErrors)
	}
}

func TestCaptureLoop_StopsOnSignal(t *testing.T) {
	signal := NewSignal()
	src := &fakeSource{}
	loop := NewCaptureLoop(src, &fakeEncoder{},
		NewBoundedQueue[*EncodedFrame](10, DropOldest),
		NewBoundedQueue[*PersistRequest](10, DropNewest),
		signal, CaptureOptions{FPS: 100}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		loop.Run()
	}()

	time.Sleep(50 * time.Millisecond)
	signal.Fire()
	if !closedWithin(done, time.Second) {
		t.Fatal("capture loop ignored the shutdown signal")
	}

	calls := src.calls.Load()
	time.Sleep(50 * time.Millisecond)
	if src.calls.Load() != calls {
		t.Error("Capture() called after the loop stopped")
	}
}
