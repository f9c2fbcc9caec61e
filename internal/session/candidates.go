package session

import (
	"github.com/tidwall/gjson"

	"github.com/sells-group/insightminer/internal/model"
)

// candidates holds the download URLs found in an info document, best
// rendition first.
type candidates struct {
	Video []string
	Image []string
}

// ordered returns the candidate URLs to try for a kind. A known kind gets
// only its own renditions; the other list is used only when the document
// lists none of that kind, so a video item never resolves to its cover
// image. Unknown kinds get every URL, video first.
func (c candidates) ordered(prefer model.Kind) []string {
	switch prefer {
	case model.KindVideo:
		if len(c.Video) > 0 {
			return c.Video
		}
		return c.Image
	case model.KindImage:
		if len(c.Image) > 0 {
			return c.Image
		}
		return c.Video
	}
	out := make([]string, 0, len(c.Video)+len(c.Image))
	out = append(out, c.Video...)
	return append(out, c.Image...)
}

func (c candidates) empty() bool {
	return len(c.Video) == 0 && len(c.Image) == 0
}

// extractCandidates reads download URLs leniently from raw info JSON. It does
// not depend on the document passing structural validation, which is what
// lets the fallback path download items whose metadata is malformed.
func extractCandidates(info []byte) candidates {
	item := gjson.GetBytes(info, "items.0")
	if !item.Exists() {
		return candidates{}
	}
	// Carousels: the first child carries the renditions.
	if first := item.Get("carousel_media.0"); first.Exists() {
		item = first
	}
	return candidates{
		Video: uniqueURLs(item.Get("video_versions.#.url")),
		Image: uniqueURLs(item.Get("image_versions2.candidates.#.url")),
	}
}

func uniqueURLs(res gjson.Result) []string {
	var out []string
	seen := make(map[string]bool)
	for _, v := range res.Array() {
		u := v.String()
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// infoFailure inspects an info document for an in-band failure status.
// It returns the upstream message and whether the document reports failure.
func infoFailure(body []byte) (string, bool) {
	status := gjson.GetBytes(body, "status")
	if status.Exists() && status.String() != "ok" {
		return gjson.GetBytes(body, "message").String(), true
	}
	return "", false
}
