package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
)

// Cropper cuts rectangles out of images and returns them as PNG data URLs.
type Cropper struct {
	loader core.MediaLoader
}

// NewCropper creates a cropper reading sources through loader.
func NewCropper(loader core.MediaLoader) *Cropper {
	return &Cropper{loader: loader}
}

// Crop loads src and cuts rect out of it.
func (c *Cropper) Crop(ctx context.Context, src string, rect core.CropRect) (string, error) {
	data, _, err := c.loader.Load(ctx, src)
	if err != nil {
		return "", err
	}
	out, err := CropImage(data, rect)
	if err != nil {
		return "", err
	}
	return EncodeDataURL("image/png", out), nil
}

// CropImage decodes data, cuts the percentage rectangle and encodes the
// result as PNG. Offsets and sizes round down to whole pixels.
func CropImage(data []byte, rect core.CropRect) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, core.ErrValidation(core.CodeInvalidImage, fmt.Sprintf("decoding image: %v", err)).WithCause(err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	x0 := int(math.Floor(rect.XPercent / 100 * float64(w)))
	y0 := int(math.Floor(rect.YPercent / 100 * float64(h)))
	cw := int(math.Floor(rect.WidthPercent / 100 * float64(w)))
	ch := int(math.Floor(rect.HeightPercent / 100 * float64(h)))
	if cw < 1 || ch < 1 {
		return nil, core.ErrValidation(core.CodeInvalidCrop,
			fmt.Sprintf("crop area is empty on a %dx%d image", w, h))
	}
	if x0 < 0 || y0 < 0 || x0+cw > w || y0+ch > h {
		return nil, core.ErrValidation(core.CodeCropOutOfBounds, "crop area exceeds image boundaries")
	}

	dst := image.NewRGBA(image.Rect(0, 0, cw, ch))
	draw.Draw(dst, dst.Bounds(), img, image.Pt(b.Min.X+x0, b.Min.Y+y0), draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

var _ core.ImageCropper = (*Cropper)(nil)
