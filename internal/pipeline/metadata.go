package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insightminer/internal/model"
	"github.com/sells-group/insightminer/internal/resilience"
	"github.com/sells-group/insightminer/internal/session"
)

// ErrResolutionFailed wraps a failure to map the identifier to a numeric key.
var ErrResolutionFailed = eris.New("key resolution failed")

// MetadataOutcome is either MetadataOK or NeedsFallback.
type MetadataOutcome interface {
	isMetadataOutcome()
}

// MetadataOK carries a descriptor built from a validated info response.
type MetadataOK struct {
	Descriptor *model.MediaDescriptor
}

// NeedsFallback reports that the info response could not be used. The
// identifier carries the resolved key.
type NeedsFallback struct {
	Identifier model.ContentIdentifier
	Reason     string
}

func (MetadataOK) isMetadataOutcome()    {}
func (NeedsFallback) isMetadataOutcome() {}

// Media types used by the info endpoint.
const (
	mediaTypeImage    = 1
	mediaTypeVideo    = 2
	mediaTypeCarousel = 8
)

type infoResponse struct {
	Items []infoItem `json:"items" validate:"required,min=1,dive"`
}

type infoItem struct {
	PK             json.Number     `json:"pk" validate:"required"`
	MediaType      int             `json:"media_type" validate:"oneof=1 2 8"`
	ProductType    string          `json:"product_type"`
	Caption        *infoCaption    `json:"caption"`
	User           *infoUser       `json:"user" validate:"required"`
	ImageVersions2 *imageVersions  `json:"image_versions2" validate:"required_if=MediaType 1"`
	VideoVersions  []mediaVersion  `json:"video_versions" validate:"required_if=MediaType 2,dive"`
	VideoDuration  float64         `json:"video_duration"`
	HasAudio       *bool           `json:"has_audio"`
	OriginalWidth  int             `json:"original_width"`
	OriginalHeight int             `json:"original_height"`
	CarouselMedia  []carouselChild `json:"carousel_media" validate:"required_if=MediaType 8,dive"`
	ClipsMetadata  *clipsMetadata  `json:"clips_metadata" validate:"required_if=ProductType clips"`
}

type infoCaption struct {
	Text string `json:"text"`
}

type infoUser struct {
	Username string `json:"username" validate:"required"`
}

type imageVersions struct {
	Candidates []mediaVersion `json:"candidates" validate:"required,min=1,dive"`
}

type mediaVersion struct {
	URL string `json:"url" validate:"required,url"`
}

type carouselChild struct {
	MediaType      int            `json:"media_type" validate:"oneof=1 2"`
	ImageVersions2 *imageVersions `json:"image_versions2" validate:"required"`
	VideoVersions  []mediaVersion `json:"video_versions" validate:"required_if=MediaType 2,dive"`
	OriginalWidth  int            `json:"original_width"`
	OriginalHeight int            `json:"original_height"`
}

// Reels carry their audio attribution here; a null original_sound_info with
// no music_info is the malformed shape that forces a fallback.
type clipsMetadata struct {
	OriginalSoundInfo map[string]any `json:"original_sound_info" validate:"required_without=MusicInfo"`
	MusicInfo         map[string]any `json:"music_info"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// MetadataPhase resolves the numeric key and reads the item's structured
// info. Only key resolution failures are returned as errors; every problem
// with the info response routes to NeedsFallback.
func MetadataPhase(ctx context.Context, sess session.Provider, id model.ContentIdentifier, retry resilience.RetryConfig) (MetadataOutcome, error) {
	key, err := sess.ResolveKey(ctx, id.SourceURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "metadata: resolve key")
		}
		return nil, eris.Wrapf(ErrResolutionFailed, "metadata: %v", err)
	}
	if key == "" {
		return nil, eris.Wrap(ErrResolutionFailed, "metadata: empty key")
	}
	id = id.WithKey(key)

	log := zap.L().With(zap.String("url", id.SourceURL), zap.String("key", key))

	retry.OnRetry = resilience.RetryLogger("session", "fetch_info")
	body, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]byte, error) {
		return sess.FetchInfo(ctx, key)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "metadata: fetch info")
		}
		log.Info("metadata: info unavailable, falling back", zap.Error(err))
		return NeedsFallback{Identifier: id, Reason: "info request failed: " + err.Error()}, nil
	}

	desc, reason := parseInfo(body, id)
	if desc == nil {
		log.Info("metadata: info failed validation, falling back", zap.String("reason", reason))
		return NeedsFallback{Identifier: id, Reason: reason}, nil
	}
	return MetadataOK{Descriptor: desc}, nil
}

// parseInfo decodes and validates an info document. It returns a nil
// descriptor and the reason when the document is unusable.
func parseInfo(body []byte, id model.ContentIdentifier) (*model.MediaDescriptor, string) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var info infoResponse
	if err := dec.Decode(&info); err != nil {
		return nil, "undecodable info: " + err.Error()
	}
	if err := validate.Struct(info); err != nil {
		return nil, validationReason(err)
	}
	return buildDescriptor(info.Items[0], id), ""
}

func validationReason(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid info: " + err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Namespace()+" failed "+fe.Tag())
	}
	return "invalid info: " + strings.Join(parts, "; ")
}

func buildDescriptor(item infoItem, id model.ContentIdentifier) *model.MediaDescriptor {
	desc := &model.MediaDescriptor{
		Identifier: id,
		Origin:     model.OriginMetadata,
		Author:     model.Ptr(item.User.Username),
	}
	if item.Caption != nil {
		desc.CaptionText = model.Ptr(item.Caption.Text)
	}

	width, height := item.OriginalWidth, item.OriginalHeight
	switch item.MediaType {
	case mediaTypeImage:
		desc.Kind = model.KindImage
	case mediaTypeVideo:
		desc.Kind = model.KindVideo
		if item.VideoDuration > 0 {
			desc.DurationSeconds = model.Ptr(item.VideoDuration)
		}
		if item.HasAudio != nil {
			desc.HasAudio = model.Ptr(*item.HasAudio)
		}
	case mediaTypeCarousel:
		desc.Kind = model.KindCarousel
		desc.CarouselSize = len(item.CarouselMedia)
		if len(item.CarouselMedia) > 0 {
			first := item.CarouselMedia[0]
			width, height = first.OriginalWidth, first.OriginalHeight
		}
	}
	if width > 0 && height > 0 {
		desc.Width = model.Ptr(width)
		desc.Height = model.Ptr(height)
	}
	return desc
}
