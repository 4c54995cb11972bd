package domain

// Page coordinates are PDF points with the origin at the top-left corner of
// the page and y growing downward.

const (
	MinSignatureWidth  = 150.0
	MinSignatureHeight = 40.0

	// BaselineRatio places inserted text near the bottom of the tag box.
	BaselineRatio = 0.8
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BoundingBox is an axis-aligned rectangle produced by tag search.
type BoundingBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

func (b BoundingBox) Width() float64  { return b.X1 - b.X0 }
func (b BoundingBox) Height() float64 { return b.Y1 - b.Y0 }

func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	return BoundingBox{
		X0: min(b.X0, o.X0),
		Y0: min(b.Y0, o.Y0),
		X1: max(b.X1, o.X1),
		Y1: max(b.Y1, o.Y1),
	}
}

// TextOrigin is the left end of the baseline used for replacement text.
func (b BoundingBox) TextOrigin() Point {
	return Point{X: b.X0, Y: b.Y0 + BaselineRatio*b.Height()}
}

// SignatureRect grows the box to the minimum signature size while keeping
// its top-left corner in place.
func (b BoundingBox) SignatureRect() BoundingBox {
	w := max(b.Width(), MinSignatureWidth)
	h := max(b.Height(), MinSignatureHeight)
	return BoundingBox{X0: b.X0, Y0: b.Y0, X1: b.X0 + w, Y1: b.Y0 + h}
}

// FitImage returns the largest rectangle with the image's aspect ratio that
// fits inside b, centered in it.
func (b BoundingBox) FitImage(width, height int) BoundingBox {
	if width <= 0 || height <= 0 {
		return b
	}
	scale := min(b.Width()/float64(width), b.Height()/float64(height))
	w := float64(width) * scale
	h := float64(height) * scale
	x0 := b.X0 + (b.Width()-w)/2
	y0 := b.Y0 + (b.Height()-h)/2
	return BoundingBox{X0: x0, Y0: y0, X1: x0 + w, Y1: y0 + h}
}

type RGB struct {
	R, G, B float64
}

var (
	White = RGB{R: 1, G: 1, B: 1}
	Black = RGB{}
)

type TextStyle struct {
	FontName string
	FontSize float64
	Color    RGB
}

type TagInstance struct {
	PageIndex int         `json:"page_index"`
	Box       BoundingBox `json:"bounding_box"`
	Tag       string      `json:"tag"`
}
