package pipeline

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insightminer/internal/model"
)

// ErrInvalidURL is returned when a URL does not address a single item.
var ErrInvalidURL = eris.New("invalid item url")

var (
	acceptedHosts = map[string]bool{
		"instagram.com":     true,
		"www.instagram.com": true,
		"m.instagram.com":   true,
		"instagr.am":        true,
		"www.instagr.am":    true,
	}
	shortcodeRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	storyIDRe   = regexp.MustCompile(`^\d+$`)
)

// pathHints maps the item path segment to the kind it implies.
var pathHints = map[string]model.Kind{
	"p":     model.KindUnknown,
	"reel":  model.KindVideo,
	"reels": model.KindVideo,
	"tv":    model.KindVideo,
}

// Resolve validates rawURL against the accepted item path shapes and builds
// an unresolved identifier. It makes no network calls.
func Resolve(rawURL string) (model.ContentIdentifier, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return model.ContentIdentifier{}, eris.Wrapf(ErrInvalidURL, "resolve: parse: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return model.ContentIdentifier{}, eris.Wrapf(ErrInvalidURL, "resolve: scheme %q", u.Scheme)
	}
	if !acceptedHosts[strings.ToLower(u.Hostname())] {
		return model.ContentIdentifier{}, eris.Wrapf(ErrInvalidURL, "resolve: host %q", u.Hostname())
	}

	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	id := model.ContentIdentifier{SourceURL: rawURL, InferredKind: model.KindUnknown}

	// /stories/<user>/<numeric id>/
	if len(segs) >= 3 && segs[0] == "stories" {
		if !storyIDRe.MatchString(segs[2]) {
			return model.ContentIdentifier{}, eris.Wrapf(ErrInvalidURL, "resolve: story id %q", segs[2])
		}
		id.PathKind = "stories"
		return id, nil
	}

	// /p/<code>/ or /<user>/p/<code>/
	for i := 0; i < 2 && i+1 < len(segs); i++ {
		hint, ok := pathHints[segs[i]]
		if !ok {
			continue
		}
		code := segs[i+1]
		if !shortcodeRe.MatchString(code) {
			return model.ContentIdentifier{}, eris.Wrapf(ErrInvalidURL, "resolve: shortcode %q", code)
		}
		id.PathKind = segs[i]
		id.Shortcode = code
		id.InferredKind = hint
		return id, nil
	}

	return model.ContentIdentifier{}, eris.Wrapf(ErrInvalidURL, "resolve: unsupported path %q", u.Path)
}
