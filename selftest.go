package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"picamstream/camera"
	"picamstream/pipeline"
)

const (
	selftestDir      = "test"
	selftestImage    = "test.jpg"
	selftestAttempts = 5
)

// runSelftest checks that the save directory is writable and that the camera
// produces a frame, saving it as <save_dir>/test/test.jpg
func runSelftest(config *Config, logger *Logger) error {
	if err := checkStorageWritable(config.SaveDir); err != nil {
		return err
	}
	logger.Printf("Storage OK: %s is writable", config.SaveDir)

	camCfg := config.CameraConfig()
	src, err := camera.NewSource(camCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create camera source: %w", err)
	}

	path, err := captureTestFrame(src, camera.NewJPEGEncoder(camCfg), config.PipelineOptions(), config.SaveDir)
	if err != nil {
		return err
	}
	logger.Printf("Camera OK: saved test frame to %s", path)
	return nil
}

// checkStorageWritable writes, reads back and removes a probe file in dir
func checkStorageWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create save directory: %w", err)
	}

	probe := filepath.Join(dir, ".selftest"+tempSuffix)
	want := []byte("picamstream write test " + time.Now().Format(time.RFC3339Nano))
	if err := os.WriteFile(probe, want, 0644); err != nil {
		return fmt.Errorf("save directory is not writable: %w", err)
	}
	defer os.Remove(probe)

	got, err := os.ReadFile(probe)
	if err != nil {
		return fmt.Errorf("failed to read back probe file: %w", err)
	}
	if !bytes.Equal(got, want) {
		return errors.New("probe file content mismatch")
	}
	return nil
}

func captureTestFrame(src pipeline.FrameSource, enc pipeline.Encoder, opts pipeline.Options, saveDir string) (string, error) {
	if err := src.Open(); err != nil {
		return "", fmt.Errorf("%w: %v", pipeline.ErrCameraInit, err)
	}
	defer src.Close()

	if err := src.Configure(opts.Resolution, opts.PixelFormat); err != nil {
		return "", fmt.Errorf("%w: %v", pipeline.ErrCameraInit, err)
	}
	if err := src.Start(); err != nil {
		return "", fmt.Errorf("%w: %v", pipeline.ErrCameraInit, err)
	}
	defer src.Stop()

	var frame *pipeline.Frame
	var err error
	for i := 0; i < selftestAttempts; i++ {
		if frame, err = src.Capture(); err == nil {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("failed to capture test frame: %w", err)
	}

	encoded, err := enc.Encode(frame, opts.PersistQuality)
	if err != nil {
		return "", fmt.Errorf("failed to encode test frame: %w", err)
	}

	dir := filepath.Join(saveDir, selftestDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create test directory: %w", err)
	}
	path := filepath.Join(dir, selftestImage)
	if err := os.WriteFile(path, encoded.Data, 0644); err != nil {
		return "", fmt.Errorf("failed to save test frame: %w", err)
	}
	return path, nil
}
