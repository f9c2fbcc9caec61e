package model

// Kind is the media kind of an item.
type Kind string

const (
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindCarousel Kind = "carousel"
	KindUnknown  Kind = "unknown"
)

// Known reports whether the kind is a concrete, analyzable media kind.
func (k Kind) Known() bool {
	return k == KindImage || k == KindVideo
}

// Origin records how much a descriptor can be trusted.
type Origin string

const (
	// OriginMetadata means the descriptor was built from a validated info response.
	OriginMetadata Origin = "metadata"
	// OriginFallback means the descriptor was constructed from the identifier alone.
	OriginFallback Origin = "fallback"
)

// Signal names the evidence that decided an item's final kind.
type Signal string

const (
	SignalSignature Signal = "signature"
	SignalDeclared  Signal = "declared"
	SignalPathHint  Signal = "path_hint"
	SignalNone      Signal = "none"
)

// ContentIdentifier addresses a single item. NumericKey stays nil until the
// session resolves it.
type ContentIdentifier struct {
	SourceURL    string  `json:"source_url" yaml:"source_url"`
	PathKind     string  `json:"path_kind" yaml:"path_kind"`
	Shortcode    string  `json:"shortcode,omitempty" yaml:"shortcode,omitempty"`
	NumericKey   *string `json:"numeric_key,omitempty" yaml:"numeric_key,omitempty"`
	InferredKind Kind    `json:"inferred_kind" yaml:"inferred_kind"`
}

// Key returns the resolved numeric key, or "" when unresolved.
func (id ContentIdentifier) Key() string {
	if id.NumericKey == nil {
		return ""
	}
	return *id.NumericKey
}

// WithKey returns a copy of the identifier carrying the resolved key.
func (id ContentIdentifier) WithKey(key string) ContentIdentifier {
	id.NumericKey = &key
	return id
}

// MediaDescriptor describes one item. Kind and Origin are always set; every
// other field may be absent, in particular on the fallback path.
type MediaDescriptor struct {
	Identifier      ContentIdentifier `json:"identifier" yaml:"identifier"`
	Kind            Kind              `json:"kind" yaml:"kind"`
	Origin          Origin            `json:"origin" yaml:"origin"`
	ClassifiedBy    Signal            `json:"classified_by,omitempty" yaml:"classified_by,omitempty"`
	MimeType        string            `json:"mime_type,omitempty" yaml:"mime_type,omitempty"`
	DurationSeconds *float64          `json:"duration_seconds,omitempty" yaml:"duration_seconds,omitempty"`
	Width           *int              `json:"width,omitempty" yaml:"width,omitempty"`
	Height          *int              `json:"height,omitempty" yaml:"height,omitempty"`
	HasAudio        *bool             `json:"has_audio,omitempty" yaml:"has_audio,omitempty"`
	CaptionText     *string           `json:"caption_text,omitempty" yaml:"caption_text,omitempty"`
	Author          *string           `json:"author,omitempty" yaml:"author,omitempty"`
	CarouselSize    int               `json:"carousel_size,omitempty" yaml:"carousel_size,omitempty"`
	Recovery        *RecoveryResult   `json:"recovery,omitempty" yaml:"recovery,omitempty"`
}

// MissingFields lists the descriptive fields a complete descriptor of this
// kind would carry but this one lacks.
func (d *MediaDescriptor) MissingFields() []string {
	var missing []string
	switch d.Kind {
	case KindVideo:
		if d.DurationSeconds == nil {
			missing = append(missing, "duration")
		}
		if d.HasAudio == nil {
			missing = append(missing, "has_audio")
		}
		if d.CaptionText == nil {
			missing = append(missing, "caption")
		}
	case KindImage:
		if d.CaptionText == nil {
			missing = append(missing, "caption")
		}
	}
	return missing
}

// NeedsRecovery reports whether post-download analysis should run.
func (d *MediaDescriptor) NeedsRecovery() bool {
	if !d.Kind.Known() {
		return false
	}
	return d.Origin == OriginFallback || len(d.MissingFields()) > 0
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
