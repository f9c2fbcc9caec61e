package media

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/floostack/transcoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fakes embed the transcoder interfaces and override only the accessors
// propsFromMetadata reads.
type fakeFormat struct {
	transcoder.Format
	duration string
	name     string
}

func (f fakeFormat) GetDuration() string   { return f.duration }
func (f fakeFormat) GetFormatName() string { return f.name }

type fakeStream struct {
	transcoder.Streams
	codecType string
	codec     string
	w, h      int
	rate      string
}

func (s fakeStream) GetCodecType() string    { return s.codecType }
func (s fakeStream) GetCodecName() string    { return s.codec }
func (s fakeStream) GetWidth() int           { return s.w }
func (s fakeStream) GetHeight() int          { return s.h }
func (s fakeStream) GetAvgFrameRate() string { return s.rate }

type fakeMetadata struct {
	format  transcoder.Format
	streams []transcoder.Streams
}

func (m fakeMetadata) GetFormat() transcoder.Format     { return m.format }
func (m fakeMetadata) GetStreams() []transcoder.Streams { return m.streams }

func TestPropsFromMetadata_VideoWithAudio(t *testing.T) {
	md := fakeMetadata{
		format: fakeFormat{duration: "12.480000", name: "mov,mp4,m4a,3gp,3g2,mj2"},
		streams: []transcoder.Streams{
			fakeStream{codecType: "video", codec: "h264", w: 720, h: 1280, rate: "30000/1001"},
			fakeStream{codecType: "audio", codec: "aac"},
		},
	}

	props := propsFromMetadata(md)
	require.NotNil(t, props.DurationSeconds)
	assert.InDelta(t, 12.48, *props.DurationSeconds, 0.001)
	assert.Equal(t, 720, *props.Width)
	assert.Equal(t, 1280, *props.Height)
	assert.InDelta(t, 29.97, *props.FrameRate, 0.001)
	assert.Equal(t, "h264", props.Codec)
	assert.True(t, *props.HasAudio)
}

func TestPropsFromMetadata_SilentVideo(t *testing.T) {
	md := fakeMetadata{
		format: fakeFormat{duration: "N/A"},
		streams: []transcoder.Streams{
			fakeStream{codecType: "video", codec: "vp9", w: 0, h: 0, rate: "0/0"},
		},
	}

	props := propsFromMetadata(md)
	assert.Nil(t, props.DurationSeconds)
	assert.Nil(t, props.Width)
	assert.Nil(t, props.FrameRate)
	require.NotNil(t, props.HasAudio)
	assert.False(t, *props.HasAudio)
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"30/1", 30, true},
		{"30000/1001", 29.97, true},
		{"25", 25, true},
		{"0/0", 0, false},
		{"", 0, false},
		{"abc/1", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseRate(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.InDelta(t, tt.want, got, 0.001, tt.in)
	}
}

// fakeFFmpeg writes a script that records its arguments and creates n files
// matching the output pattern (its last argument).
func fakeFFmpeg(t *testing.T, n int) (bin, argsFile string) {
	t.Helper()
	dir := t.TempDir()
	argsFile = filepath.Join(dir, "args")
	bin = filepath.Join(dir, "ffmpeg")
	script := `#!/bin/sh
echo "$@" > ` + argsFile + `
for last; do :; done
i=1
while [ $i -le ` + strconv.Itoa(n) + ` ]; do
  out=$(printf "$last" $i)
  echo frame > "$out"
  i=$((i+1))
done
`
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))
	return bin, argsFile
}

func TestSampleFrames(t *testing.T) {
	bin, argsFile := fakeFFmpeg(t, 3)
	out := t.TempDir()

	f := NewFFmpeg(bin, "")
	frames, err := f.SampleFrames(context.Background(), "/tmp/in.mp4", out, 2*time.Second, 30)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, filepath.Join(out, "frame_001.jpg"), frames[0])
	assert.Equal(t, filepath.Join(out, "frame_003.jpg"), frames[2])

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(args), "fps=1/2")
	assert.Contains(t, string(args), "-frames:v 30")
}

func TestSampleFrames_CapsCount(t *testing.T) {
	bin, _ := fakeFFmpeg(t, 5)
	out := t.TempDir()

	frames, err := NewFFmpeg(bin, "").SampleFrames(context.Background(), "in.mp4", out, time.Second, 2)
	require.NoError(t, err)
	assert.Len(t, frames, 2)
}

func TestSampleFrames_ZeroMax(t *testing.T) {
	frames, err := NewFFmpeg("/nonexistent/ffmpeg", "").SampleFrames(context.Background(), "in.mp4", t.TempDir(), time.Second, 0)
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestExtractAudio(t *testing.T) {
	bin, argsFile := fakeFFmpeg(t, 1)
	out := filepath.Join(t.TempDir(), "audio.wav")

	require.NoError(t, NewFFmpeg(bin, "").ExtractAudio(context.Background(), "in.mp4", out))
	assert.FileExists(t, out)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(args), "-ar 16000")
	assert.Contains(t, string(args), "-ac 1")
}

func TestFirstFrame(t *testing.T) {
	bin, _ := fakeFFmpeg(t, 1)
	out := filepath.Join(t.TempDir(), "first.jpg")

	require.NoError(t, NewFFmpeg(bin, "").FirstFrame(context.Background(), "in.mp4", out))
	assert.FileExists(t, out)
}

func TestRun_FailureIncludesStderr(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "ffmpeg")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\necho 'Invalid data found' >&2\nexit 1\n"), 0o755))

	err := NewFFmpeg(bin, "").ExtractAudio(context.Background(), "in.mp4", filepath.Join(dir, "a.wav"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid data found")
}

func TestProbe_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dir := t.TempDir()
	probe := filepath.Join(dir, "ffprobe")
	require.NoError(t, os.WriteFile(probe, []byte("#!/bin/sh\nsleep 5\n"), 0o755))

	_, err := NewFFmpeg("", probe).Probe(ctx, filepath.Join(dir, "in.mp4"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func fakeFFprobe(t *testing.T, script string) string {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "ffprobe")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+script), 0o755))
	return bin
}

func TestProbe_DecodesReport(t *testing.T) {
	bin := fakeFFprobe(t, `cat <<'JSON'
{"format":{"duration":"14.200000","format_name":"mov,mp4,m4a,3gp,3g2,mj2"},
 "streams":[
  {"codec_type":"video","codec_name":"h264","width":720,"height":1280,"avg_frame_rate":"30000/1001"},
  {"codec_type":"audio","codec_name":"aac"}
 ]}
JSON
`)

	props, err := NewFFmpeg("", bin).Probe(context.Background(), "in.mp4")
	require.NoError(t, err)
	require.NotNil(t, props.DurationSeconds)
	assert.InDelta(t, 14.2, *props.DurationSeconds, 0.001)
	assert.Equal(t, "h264", props.Codec)
	assert.Equal(t, 720, *props.Width)
	assert.Equal(t, 1280, *props.Height)
	assert.True(t, *props.HasAudio)
}

func TestProbe_FailureIncludesStderr(t *testing.T) {
	bin := fakeFFprobe(t, "echo 'moov atom not found' >&2\nexit 1\n")

	_, err := NewFFmpeg("", bin).Probe(context.Background(), "in.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "moov atom not found")
}

func TestProbe_TimeoutKillsProcess(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "finished")
	bin := fakeFFprobe(t, "sleep 3\ntouch "+marker+"\n")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewFFmpeg("", bin).Probe(ctx, filepath.Join(dir, "in.mp4"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2900*time.Millisecond)

	time.Sleep(3200 * time.Millisecond)
	assert.NoFileExists(t, marker, "ffprobe kept running after the deadline")
}
