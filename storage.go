package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/exp/mmap"

	"picamstream/pipeline"
)

var ErrInvalidCaptureName = errors.New("invalid capture name")

// CaptureInfo describes one saved capture on disk
type CaptureInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	CapturedAt time.Time `json:"captured_at"`
}

// StorageManager owns the capture directory. It is the pipeline's Store and
// keeps the directory under the configured cap by deleting the oldest captures.
type StorageManager struct {
	saveDir      string
	storageCapGB int
	capBytes     int64
	logger       *Logger
	ticker       *time.Ticker
	done         chan struct{}
	stopOnce     sync.Once

	mu          sync.Mutex
	lastUsed    int64 // Cache last calculated storage usage
	lastChecked time.Time
}

var _ pipeline.Store = (*StorageManager)(nil)

func NewStorageManager(saveDir string, storageCapGB int, logger *Logger) (*StorageManager, error) {
	if err := os.MkdirAll(saveDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create save directory: %w", err)
	}

	sm := &StorageManager{
		saveDir:      saveDir,
		storageCapGB: storageCapGB,
		capBytes:     int64(storageCapGB) * BytesPerGB,
		logger:       logger,
		ticker:       time.NewTicker(StorageCheckInterval),
		done:         make(chan struct{}),
	}

	if n := sm.CleanupTempFiles(); n > 0 {
		logger.Printf("Removed %d partial capture(s) left by a previous run", n)
	}

	// Start cleanup goroutine
	go sm.cleanupLoop()

	return sm, nil
}

func (sm *StorageManager) Dir() string {
	return sm.saveDir
}

// Write stores data under name. The file appears under its final name only
// once it is complete.
func (sm *StorageManager) Write(name string, data []byte) (string, error) {
	if !validCaptureName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCaptureName, name)
	}

	final := filepath.Join(sm.saveDir, name)
	tmp := final + tempSuffix
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize %s: %w", name, err)
	}

	sm.mu.Lock()
	if !sm.lastChecked.IsZero() {
		sm.lastUsed += int64(len(data))
	}
	sm.mu.Unlock()

	return final, nil
}

func (sm *StorageManager) cleanupLoop() {
	for {
		select {
		case <-sm.done:
			return
		case <-sm.ticker.C:
			if err := sm.enforceStorageCap(); err != nil {
				// Just log, don't crash
				sm.logger.Errorf("Storage cleanup error: %v", err)
			}
		}
	}
}

func (sm *StorageManager) enforceStorageCap() error {
	files, totalSize, err := sm.scan()
	if err != nil {
		return err
	}

	sm.setUsage(totalSize)

	capBytes := sm.capBytes
	if capBytes <= 0 || totalSize <= capBytes {
		return nil
	}

	// Sort oldest first
	sort.Slice(files, func(i, j int) bool {
		return files[i].CapturedAt.Before(files[j].CapturedAt)
	})

	deletedCount := 0
	for _, f := range files {
		if totalSize <= capBytes {
			break
		}
		if err := os.Remove(filepath.Join(sm.saveDir, f.Name)); err == nil {
			deletedCount++
			totalSize -= f.Size
			sm.logger.Debugf("Deleted old capture: %s (%.2f MB)", f.Name, float64(f.Size)/BytesPerMB)
		}
	}

	sm.setUsage(totalSize)

	if deletedCount > 0 {
		sm.logger.Printf("Storage cleanup complete: deleted %d capture(s), now using %.2f GB / %d GB",
			deletedCount,
			float64(totalSize)/BytesPerGB,
			sm.storageCapGB)
	}
	return nil
}

// scan lists every finished capture in the save directory
func (sm *StorageManager) scan() ([]CaptureInfo, int64, error) {
	entries, err := os.ReadDir(sm.saveDir)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read save directory: %w", err)
	}

	var files []CaptureInfo
	var total int64
	for _, entry := range entries {
		if entry.IsDir() || !validCaptureName(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		capturedAt, err := pipeline.ParseCaptureName(entry.Name())
		if err != nil {
			capturedAt = info.ModTime()
		}
		files = append(files, CaptureInfo{
			Name:       entry.Name(),
			Size:       info.Size(),
			CapturedAt: capturedAt,
		})
		total += info.Size()
	}
	return files, total, nil
}

func (sm *StorageManager) setUsage(used int64) {
	sm.mu.Lock()
	sm.lastUsed = used
	sm.lastChecked = time.Now()
	sm.mu.Unlock()
}

func (sm *StorageManager) GetStorageStats() (used int64, cap int64, err error) {
	cap = sm.capBytes

	sm.mu.Lock()
	if !sm.lastChecked.IsZero() && time.Since(sm.lastChecked) < StorageStatsCacheTTL {
		used = sm.lastUsed
		sm.mu.Unlock()
		return used, cap, nil
	}
	sm.mu.Unlock()

	_, used, err = sm.scan()
	if err != nil {
		return 0, 0, err
	}
	sm.setUsage(used)
	return used, cap, nil
}

// ListCaptures returns saved captures, newest first
func (sm *StorageManager) ListCaptures() ([]CaptureInfo, error) {
	files, _, err := sm.scan()
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].CapturedAt.After(files[j].CapturedAt)
	})
	return files, nil
}

// LatestCapture returns the newest saved capture
func (sm *StorageManager) LatestCapture() (CaptureInfo, bool, error) {
	files, err := sm.ListCaptures()
	if err != nil || len(files) == 0 {
		return CaptureInfo{}, false, err
	}
	return files[0], true, nil
}

// ReadCapture returns the bytes of a saved capture
func (sm *StorageManager) ReadCapture(name string) ([]byte, error) {
	if !validCaptureName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCaptureName, name)
	}
	path := filepath.Join(sm.saveDir, name)

	// Memory mapping avoids a second copy through the page cache on the Pi
	r, err := mmap.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return os.ReadFile(path)
	}
	defer r.Close()

	buf := make([]byte, r.Len())
	n, err := r.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return buf[:n], nil
}

// CleanupTempFiles removes partial writes left behind if the process died
// mid-write
func (sm *StorageManager) CleanupTempFiles() int {
	entries, err := os.ReadDir(sm.saveDir)
	if err != nil {
		sm.logger.Errorf("Failed to read save directory for cleanup: %v", err)
		return 0
	}

	var cleaned int
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), tempSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(sm.saveDir, entry.Name())); err != nil {
			sm.logger.Warnf("Failed to remove temp file %s: %v", entry.Name(), err)
			continue
		}
		cleaned++
	}
	return cleaned
}

func (sm *StorageManager) Stop() {
	sm.stopOnce.Do(func() {
		sm.ticker.Stop()
		close(sm.done)
	})
}

// validCaptureName accepts bare capture file names only
func validCaptureName(name string) bool {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return false
	}
	return strings.HasPrefix(name, pipeline.CapturePrefix) && HasExtension(name, pipeline.CaptureExt)
}
