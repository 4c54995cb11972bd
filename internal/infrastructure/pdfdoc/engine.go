package pdfdoc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/kirillkom/docsign/internal/core/ports"
)

var disableConfigDir sync.Once

// Engine opens PDF documents. Text layout is read with ledongthuc/pdf and
// overlays are written as pdfcpu stamps. An Engine is safe for concurrent
// use; documents share no pdfcpu state.
type Engine struct{}

// NewEngine keeps pdfcpu away from its on-disk config directory; only the
// standard 14 fonts are used.
func NewEngine() *Engine {
	disableConfigDir.Do(api.DisableConfigDir)
	return &Engine{}
}

// configuration returns a fresh pdfcpu configuration. pdfcpu writes to it on
// every read and stamp, so each document owns one.
func configuration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func (e *Engine) Open(data []byte) (ports.Document, error) {
	if len(data) == 0 {
		return nil, errors.New("empty document")
	}
	conf := configuration()
	if _, err := api.PageCount(bytes.NewReader(data), conf); err != nil {
		return nil, fmt.Errorf("parse pdf: %w", err)
	}

	doc := &Document{
		conf:    conf,
		data:    append([]byte(nil), data...),
		boxes:   make(map[int]pageBox),
		pending: make(map[int][]*model.Watermark),
	}
	if err := doc.reload(); err != nil {
		return nil, err
	}
	return doc, nil
}

// Document is an open PDF. Overlays queue up as stamps and are merged into
// the byte stream before the next search or save, so every search observes
// the result of all previous overlays.
type Document struct {
	mu      sync.Mutex
	conf    *model.Configuration
	data    []byte
	reader  *pdf.Reader
	layouts map[int]*pageLayout
	boxes   map[int]pageBox
	pending map[int][]*model.Watermark
	closed  bool
}

func (d *Document) PageCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reader == nil {
		return 0
	}
	return d.reader.NumPage()
}

func (d *Document) Page(index int) (ports.Page, error) {
	if index < 0 || index >= d.PageCount() {
		return nil, fmt.Errorf("page %d out of range", index)
	}
	return &Page{doc: d, index: index}, nil
}

func (d *Document) Save(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("document closed")
	}
	if err := d.flushLocked(); err != nil {
		return err
	}
	_, err := w.Write(d.data)
	return err
}

func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.reader = nil
	d.layouts = nil
	d.pending = nil
	return nil
}

func (d *Document) queue(pageIndex int, wm *model.Watermark) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("document closed")
	}
	d.pending[pageIndex+1] = append(d.pending[pageIndex+1], wm)
	return nil
}

// layout returns the text layout of a page after applying queued stamps.
func (d *Document) layout(pageIndex int) (*pageLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("document closed")
	}
	if err := d.flushLocked(); err != nil {
		return nil, err
	}
	if l, ok := d.layouts[pageIndex]; ok {
		return l, nil
	}
	l, err := readLayout(d.reader, pageIndex)
	if err != nil {
		return nil, err
	}
	d.layouts[pageIndex] = l
	return l, nil
}

// geometry returns the page box without applying queued stamps, which
// never change it.
func (d *Document) geometry(pageIndex int) (pageBox, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return pageBox{}, errors.New("document closed")
	}
	if box, ok := d.boxes[pageIndex]; ok {
		return box, nil
	}
	box, err := readPageBox(d.reader, pageIndex)
	if err != nil {
		return pageBox{}, err
	}
	d.boxes[pageIndex] = box
	return box, nil
}

func (d *Document) flushLocked() error {
	if len(d.pending) == 0 {
		return nil
	}
	d.conf.Cmd = model.ADDWATERMARKS
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(d.data), d.conf)
	if err != nil {
		return fmt.Errorf("apply stamps: %w", err)
	}
	lastObj := lastObjectNumber(ctx)
	if err := pdfcpu.AddWatermarksSliceMap(ctx, d.pending); err != nil {
		return fmt.Errorf("apply stamps: %w", err)
	}
	detachOptionalContent(ctx, d.pending, lastObj)

	var out bytes.Buffer
	if err := api.Write(ctx, &out, d.conf); err != nil {
		return fmt.Errorf("write stamps: %w", err)
	}
	d.data = out.Bytes()
	d.pending = make(map[int][]*model.Watermark)
	return d.reload()
}

func (d *Document) reload() error {
	reader, err := pdf.NewReader(bytes.NewReader(d.data), int64(len(d.data)))
	if err != nil {
		return fmt.Errorf("read pdf: %w", err)
	}
	if reader.NumPage() == 0 {
		return errors.New("pdf has no pages")
	}
	d.reader = reader
	d.layouts = make(map[int]*pageLayout)
	return nil
}

func lastObjectNumber(ctx *model.Context) int {
	last := 0
	for nr := range ctx.XRefTable.Table {
		last = max(last, nr)
	}
	return last
}

// detachOptionalContent removes the optional content group from the stamp
// forms created after object lastObj so a viewer cannot hide the overlays
// and reveal the tags below. Forms of the original document are untouched,
// even when pdfcpu reused their group.
func detachOptionalContent(ctx *model.Context, stamps map[int][]*model.Watermark, lastObj int) {
	groups := make(map[int]bool)
	for _, wms := range stamps {
		for _, wm := range wms {
			if wm.Ocg != nil {
				groups[wm.Ocg.ObjectNumber.Value()] = true
			}
		}
	}
	if len(groups) == 0 {
		return
	}
	for nr, entry := range ctx.XRefTable.Table {
		if nr <= lastObj || entry == nil || entry.Free {
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if !ok || sd.Dict == nil {
			continue
		}
		ref, ok := sd.Dict["OC"].(types.IndirectRef)
		if ok && groups[ref.ObjectNumber.Value()] {
			sd.Delete("OC")
		}
	}
}
