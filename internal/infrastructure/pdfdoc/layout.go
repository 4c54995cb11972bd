package pdfdoc

import (
	"errors"
	"fmt"
	"math"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/docsign/internal/core/domain"
)

const (
	// Glyph boxes span from the descender to the ascender of the font size.
	descentRatio = 0.2
	ascentRatio  = 0.8

	// A horizontal gap wider than this fraction of the font size reads as a space.
	wordGapRatio = 0.25
)

// pageBox is the visible page region in PDF user space: the CropBox, or the
// MediaBox when the page declares no CropBox. Stamps are anchored to it.
type pageBox struct {
	llx, lly, urx, ury float64
	rotate             int
}

func (b pageBox) height() float64 { return b.ury - b.lly }

type glyph struct {
	x, y, w, size float64
}

// pageLayout is the reading-order text of a page with each rune mapped back
// to the glyph that produced it. Synthetic separators map to -1.
type pageLayout struct {
	box    pageBox
	runes  []rune
	owner  []int
	glyphs []glyph
}

func readPageBox(reader *pdf.Reader, pageIndex int) (box pageBox, err error) {
	defer func() {
		if r := recover(); r != nil {
			box, err = pageBox{}, fmt.Errorf("read page %d: %v", pageIndex+1, r)
		}
	}()

	page := reader.Page(pageIndex + 1)
	if page.V.IsNull() {
		return pageBox{}, fmt.Errorf("page %d not found", pageIndex+1)
	}
	box, err = visibleBox(page.V)
	if err != nil {
		return pageBox{}, fmt.Errorf("page %d: %w", pageIndex+1, err)
	}
	return box, nil
}

func readLayout(reader *pdf.Reader, pageIndex int) (layout *pageLayout, err error) {
	box, err := readPageBox(reader, pageIndex)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			layout, err = nil, fmt.Errorf("read page %d content: %v", pageIndex+1, r)
		}
	}()

	page := reader.Page(pageIndex + 1)

	layout = &pageLayout{box: box}
	for _, t := range page.Content().Text {
		layout.add(t)
	}
	return layout, nil
}

func (l *pageLayout) add(t pdf.Text) {
	if t.S == "" {
		return
	}
	g := glyph{x: t.X, y: t.Y, w: t.W, size: t.FontSize}
	if n := len(l.glyphs); n > 0 {
		prev := l.glyphs[n-1]
		tolerance := math.Max(prev.size, g.size) / 2
		switch {
		case math.Abs(g.y-prev.y) > tolerance:
			l.separator('\n')
		case g.x-(prev.x+prev.w) > wordGapRatio*math.Max(prev.size, g.size):
			if last := l.runes[len(l.runes)-1]; last != ' ' {
				l.separator(' ')
			}
		}
	}
	l.glyphs = append(l.glyphs, g)
	idx := len(l.glyphs) - 1
	for _, r := range t.S {
		l.runes = append(l.runes, r)
		l.owner = append(l.owner, idx)
	}
}

func (l *pageLayout) separator(r rune) {
	l.runes = append(l.runes, r)
	l.owner = append(l.owner, -1)
}

// search returns the box of every non-overlapping literal occurrence of
// needle in top-left page coordinates.
func (l *pageLayout) search(needle string) []domain.BoundingBox {
	pattern := []rune(needle)
	if len(pattern) == 0 || len(pattern) > len(l.runes) {
		return nil
	}

	var out []domain.BoundingBox
	for i := 0; i+len(pattern) <= len(l.runes); {
		if !runesEqual(l.runes[i:i+len(pattern)], pattern) {
			i++
			continue
		}
		if box, ok := l.matchBox(i, i+len(pattern)); ok {
			out = append(out, box)
		}
		i += len(pattern)
	}
	return out
}

func (l *pageLayout) matchBox(from, to int) (domain.BoundingBox, bool) {
	var (
		box   domain.BoundingBox
		found bool
		last  = -1
	)
	for i := from; i < to; i++ {
		idx := l.owner[i]
		if idx < 0 || idx == last {
			continue
		}
		last = idx
		gb := l.glyphBox(l.glyphs[idx])
		if !found {
			box, found = gb, true
			continue
		}
		box = box.Union(gb)
	}
	return box, found
}

func (l *pageLayout) glyphBox(g glyph) domain.BoundingBox {
	bottom := g.y - descentRatio*g.size
	top := g.y + ascentRatio*g.size
	return domain.BoundingBox{
		X0: g.x - l.box.llx,
		Y0: l.box.ury - top,
		X1: g.x + g.w - l.box.llx,
		Y1: l.box.ury - bottom,
	}
}

func runesEqual(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// visibleBox resolves the CropBox, falling back to the MediaBox. Both, and
// the page rotation, are inherited from the page tree when the page itself
// does not declare them.
func visibleBox(page pdf.Value) (pageBox, error) {
	v := inherited(page, "CropBox")
	name := "CropBox"
	if v.IsNull() {
		v, name = inherited(page, "MediaBox"), "MediaBox"
	}
	if v.IsNull() {
		return pageBox{}, errors.New("MediaBox not found")
	}
	if v.Len() != 4 {
		return pageBox{}, fmt.Errorf("malformed %s with %d entries", name, v.Len())
	}
	box := pageBox{
		llx: math.Min(v.Index(0).Float64(), v.Index(2).Float64()),
		lly: math.Min(v.Index(1).Float64(), v.Index(3).Float64()),
		urx: math.Max(v.Index(0).Float64(), v.Index(2).Float64()),
		ury: math.Max(v.Index(1).Float64(), v.Index(3).Float64()),
	}
	if box.height() <= 0 || box.urx-box.llx <= 0 {
		return pageBox{}, fmt.Errorf("empty %s", name)
	}
	if r := inherited(page, "Rotate"); !r.IsNull() {
		box.rotate = ((int(r.Int64()) % 360) + 360) % 360
	}
	return box, nil
}

func inherited(page pdf.Value, key string) pdf.Value {
	for node, depth := page, 0; !node.IsNull() && depth < 32; node, depth = node.Key("Parent"), depth+1 {
		if v := node.Key(key); !v.IsNull() {
			return v
		}
	}
	return pdf.Value{}
}
