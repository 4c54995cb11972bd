package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"golang.org/x/image/bmp"
)

func sampleImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0x80, A: 0xff})
		}
	}
	return img
}

func encoded(t *testing.T, encode func(*bytes.Buffer) error) string {
	t.Helper()
	var buf bytes.Buffer
	if err := encode(&buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestDecodeKeepsPNGBytes(t *testing.T) {
	payload := encoded(t, func(buf *bytes.Buffer) error { return png.Encode(buf, sampleImage(30, 10)) })

	img, err := NewDecoder().Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if img.Width != 30 || img.Height != 10 {
		t.Fatalf("expected 30x10, got %dx%d", img.Width, img.Height)
	}
	raw, _ := base64.StdEncoding.DecodeString(payload)
	if !bytes.Equal(img.Data, raw) {
		t.Fatalf("expected png payload to pass through unchanged")
	}
}

func TestDecodeReencodesOtherFormatsAsPNG(t *testing.T) {
	cases := map[string]string{
		"jpeg": encoded(t, func(buf *bytes.Buffer) error { return jpeg.Encode(buf, sampleImage(16, 8), nil) }),
		"bmp":  encoded(t, func(buf *bytes.Buffer) error { return bmp.Encode(buf, sampleImage(16, 8)) }),
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			img, err := NewDecoder().Decode(payload)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if img.Width != 16 || img.Height != 8 {
				t.Fatalf("expected 16x8, got %dx%d", img.Width, img.Height)
			}
			if _, format, err := image.DecodeConfig(bytes.NewReader(img.Data)); err != nil || format != "png" {
				t.Fatalf("expected png output, got %q (%v)", format, err)
			}
		})
	}
}

func TestDecodeAcceptsDataURLAndWrappedBase64(t *testing.T) {
	payload := encoded(t, func(buf *bytes.Buffer) error { return png.Encode(buf, sampleImage(4, 4)) })

	for name, input := range map[string]string{
		"data url": "data:image/png;base64," + payload,
		"wrapped":  payload[:10] + "\n" + payload[10:],
		"unpadded": strings.TrimRight(payload, "="),
	} {
		if _, err := NewDecoder().Decode(input); err != nil {
			t.Fatalf("%s: Decode() error = %v", name, err)
		}
	}
}

func TestDecodeRejectsInvalidPayloads(t *testing.T) {
	for name, input := range map[string]string{
		"not base64":     "!!!not-base64!!!",
		"not an image":   base64.StdEncoding.EncodeToString([]byte("plain text, no pixels")),
		"plain data url": "data:image/png,abc",
		"empty":          "   ",
	} {
		if _, err := NewDecoder().Decode(input); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
