package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/docsign/internal/core/domain"
	"github.com/kirillkom/docsign/internal/core/ports"
)

const minShrinkFontSize = 4.0

// Overlay paints replacement content over located tag instances.
type Overlay struct {
	Style    domain.TextStyle
	Overflow domain.OverflowPolicy
	// FillSignature paints the tag box white before drawing a signature.
	FillSignature bool
}

func DefaultOverlay() Overlay {
	return Overlay{
		Style: domain.TextStyle{
			FontName: "Helvetica",
			FontSize: 10,
			Color:    domain.Black,
		},
		Overflow: domain.OverflowAllow,
	}
}

// ApplyText occludes the tag with a white box and writes value on a single
// line starting at the box's left edge.
func (o Overlay) ApplyText(page ports.Page, box domain.BoundingBox, value string) error {
	if err := page.FillRect(box, domain.White); err != nil {
		return fmt.Errorf("fill tag box: %w", err)
	}

	text, style := o.fitText(page, box, singleLine(value))
	if text == "" {
		return nil
	}
	if err := page.InsertText(box.TextOrigin(), text, style); err != nil {
		return fmt.Errorf("insert text: %w", err)
	}
	return nil
}

// ApplyImage draws img in the signature rectangle anchored at the tag's
// top-left corner.
func (o Overlay) ApplyImage(page ports.Page, box domain.BoundingBox, img domain.RasterImage) error {
	if o.FillSignature {
		if err := page.FillRect(box, domain.White); err != nil {
			return fmt.Errorf("fill tag box: %w", err)
		}
	}
	if err := page.InsertImage(box.SignatureRect(), img); err != nil {
		return fmt.Errorf("insert image: %w", err)
	}
	return nil
}

func (o Overlay) fitText(page ports.Page, box domain.BoundingBox, text string) (string, domain.TextStyle) {
	style := o.Style
	switch o.Overflow {
	case domain.OverflowShrink:
		width := page.TextWidth(text, style)
		if width <= box.Width() || width <= 0 {
			return text, style
		}
		style.FontSize = max(style.FontSize*box.Width()/width, minShrinkFontSize)
		return text, style
	case domain.OverflowClip:
		runes := []rune(text)
		for len(runes) > 0 && page.TextWidth(string(runes), style) > box.Width() {
			runes = runes[:len(runes)-1]
		}
		return string(runes), style
	default:
		return text, style
	}
}

func singleLine(value string) string {
	return strings.Join(strings.FieldsFunc(value, func(r rune) bool {
		return r == '\n' || r == '\r'
	}), " ")
}
