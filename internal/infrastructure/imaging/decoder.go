package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kirillkom/docsign/internal/core/domain"
)

// maxPixels bounds the decoded image size.
const maxPixels = 40_000_000

// Decoder turns base64 signature payloads into PNG rasters. Payloads may be
// bare base64 or data URLs.
type Decoder struct{}

func NewDecoder() *Decoder {
	return &Decoder{}
}

func (d *Decoder) Decode(payload string) (domain.RasterImage, error) {
	raw, err := decodeBase64(payload)
	if err != nil {
		return domain.RasterImage{}, err
	}
	if len(raw) == 0 {
		return domain.RasterImage{}, errors.New("empty image payload")
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return domain.RasterImage{}, fmt.Errorf("read image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return domain.RasterImage{}, fmt.Errorf("invalid %s dimensions %dx%d", format, cfg.Width, cfg.Height)
	}
	if cfg.Width*cfg.Height > maxPixels {
		return domain.RasterImage{}, fmt.Errorf("%s image too large: %dx%d", format, cfg.Width, cfg.Height)
	}

	if format == "png" {
		return domain.RasterImage{Width: cfg.Width, Height: cfg.Height, Data: raw}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return domain.RasterImage{}, fmt.Errorf("decode %s image: %w", format, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, normalize(img)); err != nil {
		return domain.RasterImage{}, fmt.Errorf("encode png: %w", err)
	}
	b := img.Bounds()
	return domain.RasterImage{Width: b.Dx(), Height: b.Dy(), Data: buf.Bytes()}, nil
}

func decodeBase64(payload string) ([]byte, error) {
	s := strings.TrimSpace(payload)
	if strings.HasPrefix(s, "data:") {
		idx := strings.Index(s, ",")
		if idx < 0 {
			return nil, errors.New("malformed data url")
		}
		if !strings.HasSuffix(s[:idx], ";base64") {
			return nil, errors.New("data url is not base64 encoded")
		}
		s = s[idx+1:]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)

	raw, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return raw, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); rawErr == nil {
		return raw, nil
	}
	return nil, fmt.Errorf("decode base64: %w", err)
}

// normalize converts paletted and YCbCr images to RGBA so the PNG encoder
// writes a plain truecolor image.
func normalize(img image.Image) image.Image {
	switch img.(type) {
	case *image.RGBA, *image.NRGBA, *image.Gray:
		return img
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
