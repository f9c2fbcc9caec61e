package pipeline

import (
	"github.com/sells-group/insightminer/internal/model"
)

// Fallback builds the minimum descriptor the rest of the pipeline needs from
// the identifier alone. It never fails; the worst case is an unknown kind.
func Fallback(id model.ContentIdentifier) *model.MediaDescriptor {
	kind := id.InferredKind
	if kind == "" {
		kind = model.KindUnknown
	}
	return &model.MediaDescriptor{
		Identifier: id,
		Kind:       kind,
		Origin:     model.OriginFallback,
	}
}
