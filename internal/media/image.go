package media

import (
	"bytes"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
	_ "golang.org/x/image/webp" // register decoder

	"github.com/sells-group/insightminer/internal/model"
)

const maxExifValueLen = 256

// InspectImage reads dimensions and format from the image header and any
// EXIF tags present. Missing EXIF is not an error.
func InspectImage(data []byte) (*model.TechnicalProps, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrap(err, "media: decode image header")
	}
	props := &model.TechnicalProps{
		Width:  model.Ptr(cfg.Width),
		Height: model.Ptr(cfg.Height),
		Format: format,
	}
	if tags := readExif(data); len(tags) > 0 {
		props.Exif = tags
	}
	return props, nil
}

type exifCollector map[string]string

func (c exifCollector) Walk(name exif.FieldName, tag *tiff.Tag) error {
	if name == exif.MakerNote {
		return nil
	}
	v := strings.Trim(tag.String(), `"`)
	if v == "" || len(v) > maxExifValueLen {
		return nil
	}
	c[string(name)] = v
	return nil
}

func readExif(data []byte) map[string]string {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	tags := make(exifCollector)
	if err := x.Walk(tags); err != nil {
		return nil
	}
	return tags
}
