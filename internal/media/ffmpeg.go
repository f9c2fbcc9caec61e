package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/floostack/transcoder"
	"github.com/floostack/transcoder/ffmpeg"
	"github.com/rotisserie/eris"

	"github.com/sells-group/insightminer/internal/model"
)

// waitDelay bounds how long a killed tool's leftover children may hold its
// output pipes open.
const waitDelay = 2 * time.Second

// FFmpeg implements Toolkit with the ffprobe and ffmpeg binaries.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
}

var _ Toolkit = (*FFmpeg)(nil)

// NewFFmpeg creates an FFmpeg toolkit. Empty paths resolve from PATH.
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// Probe runs ffprobe under ctx and decodes its report into the transcoder
// metadata types. The process is killed when ctx ends, so nothing keeps
// reading path after the caller has moved on.
func (f *FFmpeg) Probe(ctx context.Context, path string) (*model.TechnicalProps, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "media: probe")
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "media: probe")
		}
		return nil, eris.Wrapf(err, "media: ffprobe %s: %s", filepath.Base(path), strings.TrimSpace(stderr.String()))
	}

	var md ffmpeg.Metadata
	if err := json.Unmarshal(stdout.Bytes(), &md); err != nil {
		return nil, eris.Wrapf(err, "media: decode ffprobe report for %s", filepath.Base(path))
	}
	return propsFromMetadata(&md), nil
}

// propsFromMetadata picks the first video stream for geometry and notes
// whether any audio stream exists.
func propsFromMetadata(md transcoder.Metadata) *model.TechnicalProps {
	props := &model.TechnicalProps{HasAudio: model.Ptr(false)}
	if format := md.GetFormat(); format != nil {
		if d, err := strconv.ParseFloat(format.GetDuration(), 64); err == nil && d > 0 {
			props.DurationSeconds = model.Ptr(d)
		}
		props.Format = format.GetFormatName()
	}

	var sawVideo bool
	for _, s := range md.GetStreams() {
		switch s.GetCodecType() {
		case "video":
			if sawVideo {
				continue
			}
			sawVideo = true
			props.Codec = s.GetCodecName()
			if w, h := s.GetWidth(), s.GetHeight(); w > 0 && h > 0 {
				props.Width = model.Ptr(w)
				props.Height = model.Ptr(h)
			}
			if fps, ok := parseRate(s.GetAvgFrameRate()); ok {
				props.FrameRate = model.Ptr(fps)
			}
		case "audio":
			props.HasAudio = model.Ptr(true)
		}
	}
	return props
}

// parseRate parses ffprobe rationals such as "30000/1001".
func parseRate(s string) (float64, bool) {
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	if !found {
		return n, n > 0
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, false
	}
	r := n / d
	return float64(int(r*100+0.5)) / 100, r > 0
}

// SampleFrames implements Toolkit.
func (f *FFmpeg) SampleFrames(ctx context.Context, path, outDir string, interval time.Duration, max int) ([]string, error) {
	if max <= 0 {
		return nil, nil
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	pattern := filepath.Join(outDir, "frame_%03d.jpg")
	err := f.run(ctx,
		"-i", path,
		"-vf", fmt.Sprintf("fps=1/%g", interval.Seconds()),
		"-frames:v", strconv.Itoa(max),
		"-q:v", "3",
		pattern,
	)
	if err != nil {
		return nil, eris.Wrap(err, "media: sample frames")
	}

	frames, err := filepath.Glob(filepath.Join(outDir, "frame_*.jpg"))
	if err != nil {
		return nil, eris.Wrap(err, "media: list frames")
	}
	sort.Strings(frames)
	if len(frames) > max {
		frames = frames[:max]
	}
	return frames, nil
}

// FirstFrame implements Toolkit.
func (f *FFmpeg) FirstFrame(ctx context.Context, path, outPath string) error {
	if err := f.run(ctx, "-i", path, "-frames:v", "1", "-q:v", "2", outPath); err != nil {
		return eris.Wrap(err, "media: first frame")
	}
	return nil
}

// ExtractAudio implements Toolkit.
func (f *FFmpeg) ExtractAudio(ctx context.Context, path, outPath string) error {
	if err := f.run(ctx, "-i", path, "-vn", "-ac", "1", "-ar", "16000", "-f", "wav", outPath); err != nil {
		return eris.Wrap(err, "media: extract audio")
	}
	return nil
}

func (f *FFmpeg) run(ctx context.Context, args ...string) error {
	full := append([]string{"-hide_banner", "-loglevel", "error", "-nostdin", "-y"}, args...)
	cmd := exec.CommandContext(ctx, f.ffmpegPath, full...)
	cmd.WaitDelay = waitDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return eris.Wrapf(err, "ffmpeg: %s", strings.TrimSpace(stderr.String()))
	}
	return nil
}
