package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insightminer/internal/model"
	"github.com/sells-group/insightminer/internal/resilience"
)

var jpegHead = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

// lastRange records the most recent Range header seen by the test CDN.
var lastRange atomic.Value

// newTestSession serves /api/v1/media/{key}/info/ with infoFn and CDN files
// from cdn, keyed by path.
func newTestSession(t *testing.T, infoFn func(w http.ResponseWriter, r *http.Request), cdn map[string]cdnFile) (*HTTPSession, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/media/", infoFn)
	mux.HandleFunc("/cdn/", func(w http.ResponseWriter, r *http.Request) {
		f, ok := cdn[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if f.status != 0 {
			w.WriteHeader(f.status)
			return
		}
		if rg := r.Header.Get("Range"); rg != "" {
			lastRange.Store(rg)
		}
		w.Header().Set("Content-Type", f.contentType)
		body := f.body
		if r.Header.Get("Range") != "" && len(body) > probeBytes {
			body = body[:probeBytes]
			w.WriteHeader(http.StatusPartialContent)
		}
		_, _ = w.Write(body)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	sess := NewHTTPSession(HTTPOptions{
		BaseURL:        srv.URL + "/api/v1",
		SessionID:      "sid",
		UserAgent:      "test-agent",
		AppID:          "936619743392459",
		RequestsPerSec: 1000,
		Client:         srv.Client(),
	})
	return sess, srv
}

type cdnFile struct {
	status      int
	contentType string
	body        []byte
}

func infoJSON(srvURL string, videos, images []string) string {
	q := func(paths []string) string {
		var parts []string
		for _, p := range paths {
			parts = append(parts, fmt.Sprintf(`{"url":"%s%s"}`, srvURL, p))
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprintf(`{"status":"ok","items":[{"pk":"42","media_type":2,"video_versions":[%s],"image_versions2":{"candidates":[%s]}}]}`,
		q(videos), q(images))
}

func TestFetchInfo_SendsSessionHeaders(t *testing.T) {
	var gotCookie, gotApp, gotUA string
	sess, _ := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/media/42/info/", r.URL.Path)
		if c, err := r.Cookie("sessionid"); err == nil {
			gotCookie = c.Value
		}
		gotApp = r.Header.Get("X-IG-App-ID")
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`{"status":"ok","items":[{"pk":"42"}]}`))
	}, nil)

	body, err := sess.FetchInfo(context.Background(), "42")
	require.NoError(t, err)
	assert.Contains(t, string(body), `"pk":"42"`)
	assert.Equal(t, "sid", gotCookie)
	assert.Equal(t, "936619743392459", gotApp)
	assert.Equal(t, "test-agent", gotUA)
}

func TestFetchInfo_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		sentinel  error
		retryable bool
	}{
		{"not found", http.StatusNotFound, "", ErrNotFound, false},
		{"gone", http.StatusGone, "", ErrNotFound, false},
		{"forbidden", http.StatusForbidden, "", ErrAccessDenied, false},
		{"unauthorized", http.StatusUnauthorized, "", ErrAuthRejected, false},
		{"login required", http.StatusBadRequest, `{"message":"login_required","status":"fail"}`, ErrAuthRejected, false},
		{"rate limited", http.StatusTooManyRequests, "", nil, true},
		{"server error", http.StatusBadGateway, "", nil, true},
		{"in-band not found", http.StatusOK, `{"status":"fail","message":"Media not found or unavailable"}`, ErrNotFound, false},
		{"in-band please wait", http.StatusOK, `{"status":"fail","message":"Please wait a few minutes"}`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, _ := newTestSession(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, nil)

			_, err := sess.FetchInfo(context.Background(), "42")
			require.Error(t, err)
			if tt.sentinel != nil {
				assert.True(t, errors.Is(err, tt.sentinel), "expected %v in chain, got %v", tt.sentinel, err)
			}
			assert.Equal(t, tt.retryable, resilience.IsTransient(err))
		})
	}
}

func TestProbeBytes_RangedRequest(t *testing.T) {
	big := append(append([]byte{}, jpegHead...), make([]byte, 4096)...)
	var srvURL string
	sess, srv := newTestSession(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(infoJSON(srvURL, nil, []string{"/cdn/a.jpg"})))
	}, map[string]cdnFile{
		"/cdn/a.jpg": {contentType: "image/jpeg", body: big},
	})
	srvURL = srv.URL

	probe, err := sess.ProbeBytes(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "bytes=0-511", lastRange.Load())
	assert.Equal(t, "image/jpeg", probe.ContentType)
	assert.Len(t, probe.Head, probeBytes)
	assert.False(t, probe.HasVideo)
	assert.Equal(t, jpegHead, probe.Head[:len(jpegHead)])
}

func TestFetchBytes_PrefersKindAndFallsThrough(t *testing.T) {
	var infoCalls atomic.Int32
	var srvURL string
	sess, srv := newTestSession(t, func(w http.ResponseWriter, _ *http.Request) {
		infoCalls.Add(1)
		_, _ = w.Write([]byte(infoJSON(srvURL, []string{"/cdn/missing.mp4", "/cdn/v.mp4"}, []string{"/cdn/a.jpg"})))
	}, map[string]cdnFile{
		"/cdn/v.mp4": {contentType: "video/mp4", body: []byte("video-bytes")},
		"/cdn/a.jpg": {contentType: "image/jpeg", body: jpegHead},
	})
	srvURL = srv.URL

	// Metadata stage fetched info first; the download reuses it.
	_, err := sess.FetchInfo(context.Background(), "42")
	require.NoError(t, err)

	payload, err := sess.FetchBytes(context.Background(), "42", model.KindVideo)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(payload.Bytes()))
	assert.Equal(t, "video/mp4", payload.ContentType)
	assert.Equal(t, int32(1), infoCalls.Load())

	img, err := sess.FetchBytes(context.Background(), "42", model.KindImage)
	require.NoError(t, err)
	assert.Equal(t, jpegHead, img.Bytes())
	assert.Equal(t, int32(2), infoCalls.Load(), "cache entry is dropped after a download")
}

func TestFetchBytes_VideoNeverFallsBackToCover(t *testing.T) {
	var srvURL string
	sess, srv := newTestSession(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(infoJSON(srvURL, []string{"/cdn/v.mp4"}, []string{"/cdn/cover.jpg"})))
	}, map[string]cdnFile{
		"/cdn/v.mp4":     {status: http.StatusServiceUnavailable},
		"/cdn/cover.jpg": {contentType: "image/jpeg", body: jpegHead},
	})
	srvURL = srv.URL

	payload, err := sess.FetchBytes(context.Background(), "42", model.KindVideo)
	require.Error(t, err)
	assert.Nil(t, payload)
	assert.True(t, resilience.IsTransient(err))
}

func TestCandidatesOrdered(t *testing.T) {
	both := candidates{Video: []string{"v1", "v2"}, Image: []string{"i1"}}
	imageOnly := candidates{Image: []string{"i1"}}
	videoOnly := candidates{Video: []string{"v1"}}

	tests := []struct {
		name   string
		cands  candidates
		prefer model.Kind
		want   []string
	}{
		{"video item", both, model.KindVideo, []string{"v1", "v2"}},
		{"image item", both, model.KindImage, []string{"i1"}},
		{"unknown tries all", both, model.KindUnknown, []string{"v1", "v2", "i1"}},
		{"carousel tries all", both, model.KindCarousel, []string{"v1", "v2", "i1"}},
		{"video without video renditions", imageOnly, model.KindVideo, []string{"i1"}},
		{"image without image renditions", videoOnly, model.KindImage, []string{"v1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cands.ordered(tt.prefer))
		})
	}
}

func TestFetchBytes_RefreshesExpiredCachedLinks(t *testing.T) {
	var infoCalls atomic.Int32
	var srvURL string
	sess, srv := newTestSession(t, func(w http.ResponseWriter, _ *http.Request) {
		if infoCalls.Add(1) == 1 {
			_, _ = w.Write([]byte(infoJSON(srvURL, nil, []string{"/cdn/expired.jpg"})))
			return
		}
		_, _ = w.Write([]byte(infoJSON(srvURL, nil, []string{"/cdn/fresh.jpg"})))
	}, map[string]cdnFile{
		"/cdn/expired.jpg": {status: http.StatusForbidden},
		"/cdn/fresh.jpg":   {contentType: "image/jpeg", body: jpegHead},
	})
	srvURL = srv.URL

	_, err := sess.FetchInfo(context.Background(), "42")
	require.NoError(t, err)

	payload, err := sess.FetchBytes(context.Background(), "42", model.KindImage)
	require.NoError(t, err)
	assert.Equal(t, jpegHead, payload.Bytes())
	assert.Equal(t, int32(2), infoCalls.Load())
}

func TestFetchBytes_FreshLinksRejectedAreFinal(t *testing.T) {
	var infoCalls atomic.Int32
	var srvURL string
	sess, srv := newTestSession(t, func(w http.ResponseWriter, _ *http.Request) {
		infoCalls.Add(1)
		_, _ = w.Write([]byte(infoJSON(srvURL, nil, []string{"/cdn/gone.jpg"})))
	}, nil)
	srvURL = srv.URL

	_, err := sess.FetchBytes(context.Background(), "42", model.KindImage)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), infoCalls.Load())
}

func TestProbeBytes_RefreshesExpiredCachedLinks(t *testing.T) {
	var infoCalls atomic.Int32
	var srvURL string
	sess, srv := newTestSession(t, func(w http.ResponseWriter, _ *http.Request) {
		if infoCalls.Add(1) == 1 {
			_, _ = w.Write([]byte(infoJSON(srvURL, []string{"/cdn/expired.mp4"}, nil)))
			return
		}
		_, _ = w.Write([]byte(infoJSON(srvURL, []string{"/cdn/fresh.mp4"}, nil)))
	}, map[string]cdnFile{
		"/cdn/fresh.mp4": {contentType: "video/mp4", body: []byte("video-bytes")},
	})
	srvURL = srv.URL

	_, err := sess.FetchInfo(context.Background(), "42")
	require.NoError(t, err)

	probe, err := sess.ProbeBytes(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, srvURL+"/cdn/fresh.mp4", probe.URL)
	assert.True(t, probe.HasVideo)
	assert.Equal(t, int32(2), infoCalls.Load())
}

func TestFetchBytes_TransientCandidateWins(t *testing.T) {
	var srvURL string
	sess, srv := newTestSession(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(infoJSON(srvURL, nil, []string{"/cdn/busy.jpg", "/cdn/gone.jpg"})))
	}, map[string]cdnFile{
		"/cdn/busy.jpg": {status: http.StatusServiceUnavailable},
	})
	srvURL = srv.URL

	_, err := sess.FetchBytes(context.Background(), "42", model.KindImage)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestFetchBytes_NoCandidates(t *testing.T) {
	sess, _ := newTestSession(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","items":[{"pk":"42"}]}`))
	}, nil)

	_, err := sess.FetchBytes(context.Background(), "42", model.KindUnknown)
	assert.ErrorIs(t, err, ErrNoMedia)
	assert.False(t, resilience.IsTransient(err))
}

func TestFetchBytes_PayloadCap(t *testing.T) {
	var srvURL string
	sess, srv := newTestSession(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(infoJSON(srvURL, nil, []string{"/cdn/huge.jpg"})))
	}, map[string]cdnFile{
		"/cdn/huge.jpg": {contentType: "image/jpeg", body: make([]byte, 2048)},
	})
	srvURL = srv.URL
	sess.opts.MaxPayloadBytes = 1024

	_, err := sess.FetchBytes(context.Background(), "42", model.KindImage)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestExtractCandidates_Carousel(t *testing.T) {
	doc := `{"items":[{"media_type":8,"carousel_media":[
		{"image_versions2":{"candidates":[{"url":"https://cdn/1.jpg"},{"url":"https://cdn/1.jpg"},{"url":"https://cdn/1s.jpg"}]}},
		{"video_versions":[{"url":"https://cdn/2.mp4"}]}
	]}]}`
	c := extractCandidates([]byte(doc))
	assert.Equal(t, []string{"https://cdn/1.jpg", "https://cdn/1s.jpg"}, c.Image)
	assert.Empty(t, c.Video)
}

func TestExtractCandidates_Malformed(t *testing.T) {
	// Null nested fields that fail structural validation do not hide URLs.
	doc := `{"items":[{"pk":"1","clips_metadata":{"original_sound_info":null},"video_versions":[{"url":"https://cdn/v.mp4"}]}]}`
	c := extractCandidates([]byte(doc))
	assert.Equal(t, []string{"https://cdn/v.mp4"}, c.Video)

	assert.True(t, extractCandidates([]byte(`not json`)).empty())
}
