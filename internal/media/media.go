// Package media inspects downloaded media: container probing, frame
// sampling and audio extraction for video, header and EXIF reading for images.
package media

import (
	"context"
	"time"

	"github.com/sells-group/insightminer/internal/model"
)

// Toolkit is the set of media operations post-download recovery and
// fingerprinting need. Every method works on files inside the acquisition
// scratch directory.
type Toolkit interface {
	// Probe reads container-level technical properties.
	Probe(ctx context.Context, path string) (*model.TechnicalProps, error)
	// SampleFrames writes up to max JPEG frames, one per interval, into outDir
	// and returns their paths in presentation order.
	SampleFrames(ctx context.Context, path, outDir string, interval time.Duration, max int) ([]string, error)
	// FirstFrame writes the first video frame to outPath as JPEG.
	FirstFrame(ctx context.Context, path, outPath string) error
	// ExtractAudio writes the first audio track to outPath as 16 kHz mono WAV.
	ExtractAudio(ctx context.Context, path, outPath string) error
}
