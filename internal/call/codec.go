package call

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

const DefaultJPEGQuality = 50

// Codec turns captured images into frame payloads and back.
type Codec interface {
	Encode(img image.Image) ([]byte, error)
	Decode(payload []byte) (image.Image, error)
}

type JPEGCodec struct {
	Quality int
}

func NewJPEGCodec() *JPEGCodec {
	return &JPEGCodec{Quality: DefaultJPEGQuality}
}

func (that *JPEGCodec) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: that.Quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}

	return buf.Bytes(), nil
}

func (that *JPEGCodec) Decode(payload []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to decode jpeg: %w", err)
	}

	return img, nil
}
