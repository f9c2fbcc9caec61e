package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insightminer/internal/model"
	"github.com/sells-group/insightminer/internal/resilience"
	"github.com/sells-group/insightminer/internal/session"
)

// --- Session fake ---

// fakeSession is a scripted session.Provider that records every call and
// every payload it hands out.
type fakeSession struct {
	mu sync.Mutex

	key        string
	resolveErr error

	info    []byte
	infoErr error

	probe    *session.Probe
	probeErr error

	data        []byte
	contentType string
	// fetchErrs are returned one per FetchBytes call before fetchErr/data.
	fetchErrs []error
	fetchErr  error

	calls    map[string]int
	prefers  []model.Kind
	payloads []*model.RawPayload
}

var _ session.Provider = (*fakeSession)(nil)

func (f *fakeSession) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
}

func (f *fakeSession) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeSession) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeSession) ResolveKey(_ context.Context, _ string) (string, error) {
	f.record("resolve")
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	if f.key == "" {
		return "3085967763601049687", nil
	}
	return f.key, nil
}

func (f *fakeSession) FetchInfo(ctx context.Context, _ string) ([]byte, error) {
	f.record("info")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return f.info, nil
}

func (f *fakeSession) ProbeBytes(ctx context.Context, _ string) (*session.Probe, error) {
	f.record("probe")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return f.probe, nil
}

func (f *fakeSession) FetchBytes(ctx context.Context, _ string, prefer model.Kind) (*model.RawPayload, error) {
	f.record("fetch")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefers = append(f.prefers, prefer)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(f.fetchErrs) > 0 {
		err := f.fetchErrs[0]
		f.fetchErrs = f.fetchErrs[1:]
		return nil, err
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	p := model.NewRawPayload(append([]byte(nil), f.data...), f.contentType, "https://cdn.example.com/item")
	f.payloads = append(f.payloads, p)
	return p, nil
}

// --- Media toolkit fake ---

type fakeMedia struct {
	mu sync.Mutex

	props    *model.TechnicalProps
	probeErr error
	frames   int
	frameErr error
	audioErr error
	// frame is written for every sampled frame and for the first frame.
	frame []byte

	staged []byte
	calls  map[string]int
}

func (m *fakeMedia) record(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[op]++
}

func (m *fakeMedia) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *fakeMedia) Probe(_ context.Context, path string) (*model.TechnicalProps, error) {
	m.record("probe")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.staged = data
	m.mu.Unlock()
	if m.probeErr != nil {
		return nil, m.probeErr
	}
	return m.props, nil
}

func (m *fakeMedia) SampleFrames(_ context.Context, _, outDir string, _ time.Duration, maxFrames int) ([]string, error) {
	m.record("frames")
	if m.frameErr != nil {
		return nil, m.frameErr
	}
	var out []string
	for i := 1; i <= m.frames && i <= maxFrames; i++ {
		p := filepath.Join(outDir, fmt.Sprintf("frame_%03d.png", i))
		if err := os.WriteFile(p, m.frame, 0o600); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *fakeMedia) FirstFrame(_ context.Context, _, outPath string) error {
	m.record("first_frame")
	return os.WriteFile(outPath, m.frame, 0o600)
}

func (m *fakeMedia) ExtractAudio(_ context.Context, _, outPath string) error {
	m.record("audio")
	if m.audioErr != nil {
		return m.audioErr
	}
	return os.WriteFile(outPath, []byte("RIFF"), 0o600)
}

// --- OCR mock ---

type mockOCR struct {
	mock.Mock
}

func (m *mockOCR) ExtractText(ctx context.Context, img []byte) ([]string, error) {
	args := m.Called(ctx, img)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// --- Transcriber mock ---

type mockTranscriber struct {
	mock.Mock
}

func (m *mockTranscriber) Transcribe(ctx context.Context, audioPath string) (*model.Transcript, error) {
	args := m.Called(ctx, audioPath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transcript), args.Error(1)
}

// --- Store mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) LookupFingerprint(ctx context.Context, fp model.Fingerprint) (bool, error) {
	args := m.Called(ctx, fp)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) UpsertRecord(ctx context.Context, rec *model.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// --- Fixtures ---

// mp4Bytes is the head of an ISO base media file; enough for signature
// detection.
func mp4Bytes() []byte {
	b := []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00, 'i', 's', 'o', 'm', 'i', 's', 'o', '2'}
	return append(b, bytes.Repeat([]byte{0x00}, 64)...)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x * 255 / w)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

const cleanImageInfo = `{
	"status": "ok",
	"items": [{
		"pk": 3085967763601049687,
		"media_type": 1,
		"caption": {"text": "golden hour"},
		"user": {"username": "alice"},
		"image_versions2": {"candidates": [{"url": "https://cdn.example.com/a.jpg"}]},
		"original_width": 1080,
		"original_height": 1350
	}]
}`

const cleanVideoInfo = `{
	"status": "ok",
	"items": [{
		"pk": "3085967763601049687",
		"media_type": 2,
		"product_type": "clips",
		"caption": {"text": "new recipe"},
		"user": {"username": "bob"},
		"video_versions": [{"url": "https://cdn.example.com/v.mp4"}],
		"image_versions2": {"candidates": [{"url": "https://cdn.example.com/v.jpg"}]},
		"video_duration": 14.2,
		"has_audio": true,
		"original_width": 720,
		"original_height": 1280,
		"clips_metadata": {"original_sound_info": {"audio_asset_id": 1}, "music_info": null}
	}]
}`

// malformedReelInfo is a reel whose audio attribution is null on both sides.
const malformedReelInfo = `{
	"status": "ok",
	"items": [{
		"pk": "3085967763601049687",
		"media_type": 2,
		"product_type": "clips",
		"user": {"username": "bob"},
		"video_versions": [{"url": "https://cdn.example.com/v.mp4"}],
		"clips_metadata": {"original_sound_info": null, "music_info": null}
	}]
}`

const carouselInfo = `{
	"status": "ok",
	"items": [{
		"pk": "3085967763601049687",
		"media_type": 8,
		"caption": {"text": "trip"},
		"user": {"username": "carol"},
		"carousel_media": [
			{"media_type": 1, "image_versions2": {"candidates": [{"url": "https://cdn.example.com/1.jpg"}]}, "original_width": 1080, "original_height": 1080},
			{"media_type": 2, "image_versions2": {"candidates": [{"url": "https://cdn.example.com/2.jpg"}]}, "video_versions": [{"url": "https://cdn.example.com/2.mp4"}]}
		]
	}]
}`

func notFoundErr() error {
	return resilience.NewFatalError(session.ErrNotFound, 404)
}

// noWaitRetry retries without sleeping and records every wait.
func noWaitRetry(maxAttempts int, waits *[]time.Duration) resilience.RetryConfig {
	var mu sync.Mutex
	return resilience.RetryConfig{
		MaxAttempts: maxAttempts,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    400 * time.Millisecond,
		Sleep: func(ctx context.Context, d time.Duration) error {
			if waits != nil {
				mu.Lock()
				*waits = append(*waits, d)
				mu.Unlock()
			}
			return ctx.Err()
		},
	}
}
