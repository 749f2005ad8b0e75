package filter

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/bryanchriswhite/PhotoBooth/internal/frame"
	"github.com/bryanchriswhite/PhotoBooth/internal/logger"
)

// PhotoQuality is the JPEG quality used for captured photos
const PhotoQuality = 92

// Photo is a filtered, mirrored, centre-cropped square capture. Data holds
// the JPEG encoding; a Photo is never modified after Apply returns it.
type Photo struct {
	Data       []byte
	Size       int
	Filter     Kind
	CapturedAt time.Time
}

// Apply runs the filter pipeline and encodes the result as a JPEG Photo
func Apply(raw frame.Raw, k Kind) (Photo, error) {
	img, err := Process(raw, k)
	if err != nil {
		return Photo{}, err
	}

	data, err := EncodeJPEG(img, PhotoQuality)
	if err != nil {
		return Photo{}, err
	}

	logger.WithComponent("filter").Debug().
		Str("filter", string(k)).
		Int("size", img.Bounds().Dx()).
		Int("bytes", len(data)).
		Msg("Photo encoded")

	return Photo{
		Data:       data,
		Size:       img.Bounds().Dx(),
		Filter:     k,
		CapturedAt: raw.CapturedAt,
	}, nil
}

// EncodeJPEG encodes img at the given quality
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode re-reads the photo pixels
func (p Photo) Decode() (image.Image, error) {
	if len(p.Data) == 0 {
		return nil, fmt.Errorf("photo has no data")
	}
	return jpeg.Decode(bytes.NewReader(p.Data))
}
