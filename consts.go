package main

import "time"

// =============================================================================
// Server Timeouts
// =============================================================================

const (
	ServerReadTimeout       = 30 * time.Second  // 30s max to read entire request body
	ServerIdleTimeout       = 120 * time.Second // 2min max idle before closing connection
	ServerReadHeaderTimeout = 10 * time.Second  // 10s max to read HTTP headers
	ServerWriteTimeout      = 0                 // 0 = no timeout (needed for long MJPEG streams)
	ServerShutdownTimeout   = 5 * time.Second

	HTTPMaxHeaderBytes = 1 << 20 // 1MB
)

// =============================================================================
// Storage and Data Conversions
// =============================================================================

const (
	BytesPerMB = 1024 * 1024
	BytesPerGB = 1024 * 1024 * 1024

	StorageCheckInterval = 30 * time.Second
	StorageStatsCacheTTL = 5 * time.Second
)

// =============================================================================
// Default Configuration Values
// =============================================================================

const (
	DefaultPort         = 8000
	DefaultStorageCapGB = 10
	DefaultVideoWidth   = 640
	DefaultVideoHeight  = 480
	DefaultCameraSource = "auto"
	DefaultCameraDevice = "/dev/video0"
	DefaultPixelFormat  = "MJPG"

	DefaultRateLimitPerMinute = 10
	DefaultStreamTokenTTL     = 10 * time.Minute

	DefaultCredentialsFile = "credentials/logcred.env"
	DefaultCertFile        = "credentials/server.crt"
	DefaultKeyFile         = "credentials/server.key"

	DefaultMQTTTopic = "picamstream/captures"
)

// =============================================================================
// File Extensions and Formats
// =============================================================================

const (
	ExtensionMJPEG = ".mjpeg"

	ContentTypeMJPEGFile = "video/x-motion-jpeg"

	MaxExportRange = 24 * time.Hour

	tempSuffix = ".tmp"
)

// HasExtension checks if filename has the given extension
func HasExtension(filename, ext string) bool {
	if len(filename) < len(ext) {
		return false
	}
	return filename[len(filename)-len(ext):] == ext
}
