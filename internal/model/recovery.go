package model

// Segment is one timed span of a transcript.
type Segment struct {
	Start      float64 `json:"start" yaml:"start"`
	End        float64 `json:"end" yaml:"end"`
	Text       string  `json:"text" yaml:"text"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
}

// Transcript is the speech-to-text result for an audio track.
type Transcript struct {
	Text     string    `json:"text" yaml:"text"`
	Language string    `json:"language,omitempty" yaml:"language,omitempty"`
	Segments []Segment `json:"segments,omitempty" yaml:"segments,omitempty"`
}

// TechnicalProps are properties read from the media container or image header.
type TechnicalProps struct {
	DurationSeconds *float64          `json:"duration_seconds,omitempty" yaml:"duration_seconds,omitempty"`
	Width           *int              `json:"width,omitempty" yaml:"width,omitempty"`
	Height          *int              `json:"height,omitempty" yaml:"height,omitempty"`
	FrameRate       *float64          `json:"frame_rate,omitempty" yaml:"frame_rate,omitempty"`
	HasAudio        *bool             `json:"has_audio,omitempty" yaml:"has_audio,omitempty"`
	Codec           string            `json:"codec,omitempty" yaml:"codec,omitempty"`
	Format          string            `json:"format,omitempty" yaml:"format,omitempty"`
	Exif            map[string]string `json:"exif,omitempty" yaml:"exif,omitempty"`
}

// RecoveryResult aggregates what post-download analysis recovered. Every
// field is independently optional.
type RecoveryResult struct {
	Transcript   *Transcript     `json:"transcript,omitempty" yaml:"transcript,omitempty"`
	OnScreenText []string        `json:"on_screen_text,omitempty" yaml:"on_screen_text,omitempty"`
	Technical    *TechnicalProps `json:"technical,omitempty" yaml:"technical,omitempty"`
}

// Empty reports whether nothing was recovered.
func (r *RecoveryResult) Empty() bool {
	return r == nil || (r.Transcript == nil && len(r.OnScreenText) == 0 && r.Technical == nil)
}

// Merge folds a recovery result into the descriptor. Recovered technical
// properties only fill fields the descriptor lacks.
func (d *MediaDescriptor) Merge(r *RecoveryResult) {
	if r.Empty() {
		return
	}
	d.Recovery = r
	tp := r.Technical
	if tp == nil {
		return
	}
	if d.DurationSeconds == nil && tp.DurationSeconds != nil {
		d.DurationSeconds = Ptr(*tp.DurationSeconds)
	}
	if d.Width == nil && tp.Width != nil {
		d.Width = Ptr(*tp.Width)
	}
	if d.Height == nil && tp.Height != nil {
		d.Height = Ptr(*tp.Height)
	}
	if d.HasAudio == nil && tp.HasAudio != nil {
		d.HasAudio = Ptr(*tp.HasAudio)
	}
}
