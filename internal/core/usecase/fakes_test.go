package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/kirillkom/docsign/internal/core/domain"
	"github.com/kirillkom/docsign/internal/core/ports"
)

type pageOp struct {
	kind  string
	box   domain.BoundingBox
	point domain.Point
	text  string
	style domain.TextStyle
	color domain.RGB
	image domain.RasterImage
}

type pageFake struct {
	index     int
	tags      map[string][]domain.BoundingBox
	ops       []pageOp
	searchErr error
	drawErr   error
	// charWidth is the width of one rune at font size 1.
	charWidth float64
}

func (p *pageFake) Index() int { return p.index }

func (p *pageFake) Search(text string) ([]domain.BoundingBox, error) {
	if p.searchErr != nil {
		return nil, p.searchErr
	}
	return append([]domain.BoundingBox(nil), p.tags[text]...), nil
}

func (p *pageFake) FillRect(box domain.BoundingBox, color domain.RGB) error {
	if p.drawErr != nil {
		return p.drawErr
	}
	p.ops = append(p.ops, pageOp{kind: "fill", box: box, color: color})
	return nil
}

func (p *pageFake) InsertText(origin domain.Point, text string, style domain.TextStyle) error {
	if p.drawErr != nil {
		return p.drawErr
	}
	p.ops = append(p.ops, pageOp{kind: "text", point: origin, text: text, style: style})
	return nil
}

func (p *pageFake) InsertImage(rect domain.BoundingBox, img domain.RasterImage) error {
	if p.drawErr != nil {
		return p.drawErr
	}
	p.ops = append(p.ops, pageOp{kind: "image", box: rect, image: img})
	return nil
}

func (p *pageFake) TextWidth(text string, style domain.TextStyle) float64 {
	width := p.charWidth
	if width == 0 {
		width = 0.5
	}
	return float64(len([]rune(text))) * width * style.FontSize
}

func (p *pageFake) opsOfKind(kind string) []pageOp {
	var out []pageOp
	for _, op := range p.ops {
		if op.kind == kind {
			out = append(out, op)
		}
	}
	return out
}

type documentFake struct {
	pages   []*pageFake
	saveErr error
	saved   bool
	closed  bool
}

func newDocumentFake(pages ...map[string][]domain.BoundingBox) *documentFake {
	doc := &documentFake{}
	for i, tags := range pages {
		doc.pages = append(doc.pages, &pageFake{index: i, tags: tags})
	}
	return doc
}

func (d *documentFake) PageCount() int { return len(d.pages) }

func (d *documentFake) Page(index int) (ports.Page, error) {
	if index < 0 || index >= len(d.pages) {
		return nil, fmt.Errorf("page %d out of range", index)
	}
	return d.pages[index], nil
}

func (d *documentFake) Save(w io.Writer) error {
	if d.saveErr != nil {
		return d.saveErr
	}
	d.saved = true
	_, err := io.WriteString(w, "%PDF-signed")
	return err
}

func (d *documentFake) Close() error {
	d.closed = true
	return nil
}

func (d *documentFake) allOps() []pageOp {
	var out []pageOp
	for _, page := range d.pages {
		out = append(out, page.ops...)
	}
	return out
}

// engineFake maps raw document contents to prepared fake documents.
type engineFake struct {
	mu   sync.Mutex
	docs map[string]*documentFake
}

func (e *engineFake) Open(data []byte) (ports.Document, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	doc, ok := e.docs[string(data)]
	if !ok {
		return nil, errors.New("not a pdf")
	}
	return doc, nil
}

type storageFake struct {
	mu      sync.Mutex
	files   map[string][]byte
	saved   map[string][]byte
	saveErr error
}

func newStorageFake(files map[string][]byte) *storageFake {
	return &storageFake{files: files, saved: map[string][]byte{}}
}

func (s *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[key] = raw
	return nil
}

func (s *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.files[key]
	if !ok {
		return nil, fmt.Errorf("open file: %s: no such file", key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

type decoderFake struct {
	images map[string]domain.RasterImage
}

func (d decoderFake) Decode(payload string) (domain.RasterImage, error) {
	img, ok := d.images[payload]
	if !ok {
		return domain.RasterImage{}, errors.New("illegal base64 data")
	}
	return img, nil
}

type repoFake struct {
	saved []domain.BatchResult
	err   error
}

func (r *repoFake) SaveBatch(ctx context.Context, result domain.BatchResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.err != nil {
		return r.err
	}
	r.saved = append(r.saved, result)
	return nil
}

func (r *repoFake) LatestBatch(_ context.Context, signingRoomID string) (*domain.BatchResult, error) {
	for i := len(r.saved) - 1; i >= 0; i-- {
		if r.saved[i].SigningRoomID == signingRoomID {
			copyBatch := r.saved[i]
			return &copyBatch, nil
		}
	}
	return nil, domain.WrapError(domain.ErrBatchNotFound, "latest batch", errors.New(signingRoomID))
}

type observerFake struct {
	mu        sync.Mutex
	applied   map[string]int
	missing   map[string]int
	documents map[domain.DocumentStatus]int
	batches   map[domain.BatchStatus]int
}

func newObserverFake() *observerFake {
	return &observerFake{
		applied:   map[string]int{},
		missing:   map[string]int{},
		documents: map[domain.DocumentStatus]int{},
		batches:   map[domain.BatchStatus]int{},
	}
}

func (o *observerFake) TagApplied(kind string, instances int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.applied[kind] += instances
}

func (o *observerFake) TagMissing(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.missing[kind]++
}

func (o *observerFake) DocumentFinished(status domain.DocumentStatus, _ float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.documents[status]++
}

func (o *observerFake) BatchFinished(status domain.BatchStatus, _ float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batches[status]++
}

var testSignature = domain.RasterImage{Width: 300, Height: 80, Data: []byte("png-bytes")}
