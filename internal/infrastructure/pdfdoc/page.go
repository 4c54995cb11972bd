package pdfdoc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/font"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/kirillkom/docsign/internal/core/domain"
)

// fillResolution is the number of raster pixels per point of a solid fill.
const fillResolution = 4

// ErrRotatedPage is returned for overlays on pages with a non-zero /Rotate.
var ErrRotatedPage = errors.New("overlays on rotated pages are not supported")

type Page struct {
	doc   *Document
	index int
}

func (p *Page) Index() int { return p.index }

func (p *Page) Search(text string) ([]domain.BoundingBox, error) {
	layout, err := p.doc.layout(p.index)
	if err != nil {
		return nil, err
	}
	return layout.search(text), nil
}

func (p *Page) FillRect(box domain.BoundingBox, fill domain.RGB) error {
	if box.Width() <= 0 || box.Height() <= 0 {
		return nil
	}
	geo, err := p.overlayBox()
	if err != nil {
		return err
	}

	w := int(math.Ceil(box.Width() * fillResolution))
	h := int(math.Ceil(box.Height() * fillResolution))
	raw, err := solidPNG(w, h, fill)
	if err != nil {
		return err
	}

	desc := fmt.Sprintf("position:bl, scalefactor:%.6f abs, rotation:0, opacity:1", 1.0/fillResolution)
	wm, err := api.ImageWatermarkForReader(bytes.NewReader(raw), desc, true, false, types.POINTS)
	if err != nil {
		return fmt.Errorf("build fill stamp: %w", err)
	}
	wm.Dx = box.X0
	wm.Dy = geo.height() - box.Y1
	return p.doc.queue(p.index, wm)
}

func (p *Page) InsertText(origin domain.Point, text string, style domain.TextStyle) error {
	if text == "" {
		return nil
	}
	geo, err := p.overlayBox()
	if err != nil {
		return err
	}

	points := max(int(math.Round(style.FontSize)), 1)
	desc := fmt.Sprintf("fontname:%s, points:%d, fillcolor:%s, position:bl, scalefactor:1 abs, rotation:0, opacity:1",
		fontName(style), points, hexColor(style.Color))
	wm, err := api.TextWatermark(text, desc, true, false, types.POINTS)
	if err != nil {
		return fmt.Errorf("build text stamp: %w", err)
	}
	wm.Dx = origin.X
	wm.Dy = geo.height() - origin.Y - baselineOffset(fontName(style), points)
	return p.doc.queue(p.index, wm)
}

func (p *Page) InsertImage(rect domain.BoundingBox, img domain.RasterImage) error {
	if img.Empty() {
		return errors.New("empty image")
	}
	geo, err := p.overlayBox()
	if err != nil {
		return err
	}

	fit := rect.FitImage(img.Width, img.Height)
	scale := fit.Width() / float64(img.Width)
	desc := fmt.Sprintf("position:bl, scalefactor:%.6f abs, rotation:0, opacity:1", scale)
	wm, err := api.ImageWatermarkForReader(bytes.NewReader(img.Data), desc, true, false, types.POINTS)
	if err != nil {
		return fmt.Errorf("build image stamp: %w", err)
	}
	wm.Dx = fit.X0
	wm.Dy = geo.height() - fit.Y1
	return p.doc.queue(p.index, wm)
}

// overlayBox returns the box stamps are anchored to. pdfcpu rewrites the
// page frame of rotated pages, which top-left search boxes do not follow.
func (p *Page) overlayBox() (pageBox, error) {
	geo, err := p.doc.geometry(p.index)
	if err != nil {
		return pageBox{}, err
	}
	if geo.rotate != 0 {
		return pageBox{}, fmt.Errorf("page %d rotated by %d: %w", p.index+1, geo.rotate, ErrRotatedPage)
	}
	return geo, nil
}

// baselineOffset is the distance between the bottom of a single-line text
// stamp and its baseline.
func baselineOffset(name string, points int) float64 {
	if !font.IsCoreFont(name) {
		return descentRatio * float64(points)
	}
	return math.Ceil(font.Descent(name, points))
}

// TextWidth measures text set in one of the standard 14 fonts.
func (p *Page) TextWidth(text string, style domain.TextStyle) float64 {
	if text == "" || style.FontSize <= 0 {
		return 0
	}
	return font.TextWidth(text, fontName(style), 1000) * style.FontSize / 1000
}

func fontName(style domain.TextStyle) string {
	if style.FontName == "" {
		return "Helvetica"
	}
	return style.FontName
}

func hexColor(c domain.RGB) string {
	return fmt.Sprintf("#%02X%02X%02X", channel(c.R), channel(c.G), channel(c.B))
}

func channel(v float64) uint8 {
	return uint8(math.Round(math.Min(math.Max(v, 0), 1) * 255))
}

func solidPNG(w, h int, fill domain.RGB) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, max(w, 1), max(h, 1)))
	c := color.RGBA{R: channel(fill.R), G: channel(fill.G), B: channel(fill.B), A: 0xff}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode fill: %w", err)
	}
	return buf.Bytes(), nil
}
