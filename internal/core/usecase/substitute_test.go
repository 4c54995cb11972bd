package usecase

import (
	"errors"
	"testing"

	"github.com/kirillkom/docsign/internal/core/domain"
)

func TestLocateScansPagesInAscendingOrder(t *testing.T) {
	tag := "[[[Borr_name]]]"
	doc := newDocumentFake(
		map[string][]domain.BoundingBox{tag: {{X0: 10, Y0: 10, X1: 60, Y1: 22}}},
		map[string][]domain.BoundingBox{},
		map[string][]domain.BoundingBox{tag: {{X0: 5, Y0: 100, X1: 55, Y1: 112}, {X0: 5, Y0: 300, X1: 55, Y1: 312}}},
	)

	instances, err := Locate(doc, tag)
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if len(instances) != 3 {
		t.Fatalf("expected 3 instances, got %d", len(instances))
	}
	wantPages := []int{0, 2, 2}
	for i, inst := range instances {
		if inst.PageIndex != wantPages[i] {
			t.Fatalf("instance %d: expected page %d, got %d", i, wantPages[i], inst.PageIndex)
		}
		if inst.Tag != tag {
			t.Fatalf("instance %d: expected tag %q, got %q", i, tag, inst.Tag)
		}
	}
	if instances[1].Box.Y0 != 100 || instances[2].Box.Y0 != 300 {
		t.Fatalf("expected native search order within a page, got %+v", instances)
	}
}

func TestLocateAbsentTagReturnsNoInstances(t *testing.T) {
	doc := newDocumentFake(map[string][]domain.BoundingBox{})

	instances, err := Locate(doc, "[[[Missing]]]")
	if err != nil {
		t.Fatalf("Locate() error = %v", err)
	}
	if len(instances) != 0 {
		t.Fatalf("expected no instances, got %d", len(instances))
	}
	if len(doc.allOps()) != 0 {
		t.Fatalf("locate must not draw, got %+v", doc.allOps())
	}
}

func TestLocatePropagatesSearchError(t *testing.T) {
	doc := newDocumentFake(map[string][]domain.BoundingBox{})
	doc.pages[0].searchErr = errors.New("broken content stream")

	if _, err := Locate(doc, "[[[Date]]]"); err == nil {
		t.Fatalf("expected search error")
	}
}

func TestApplyTextPaintsWhiteBoxThenBaselineText(t *testing.T) {
	page := &pageFake{}
	box := domain.BoundingBox{X0: 72, Y0: 100, X1: 132, Y1: 110}

	if err := DefaultOverlay().ApplyText(page, box, "2024-01-15"); err != nil {
		t.Fatalf("ApplyText() error = %v", err)
	}
	if len(page.ops) != 2 {
		t.Fatalf("expected fill + text, got %+v", page.ops)
	}
	fill, text := page.ops[0], page.ops[1]
	if fill.kind != "fill" || fill.box != box || fill.color != domain.White {
		t.Fatalf("unexpected fill op: %+v", fill)
	}
	if text.kind != "text" || text.text != "2024-01-15" {
		t.Fatalf("unexpected text op: %+v", text)
	}
	if text.point.X != 72 || text.point.Y != 108 {
		t.Fatalf("expected baseline origin (72,108), got %+v", text.point)
	}
	if text.style.FontSize != 10 || text.style.Color != domain.Black {
		t.Fatalf("unexpected text style: %+v", text.style)
	}
}

func TestApplyTextCollapsesNewlines(t *testing.T) {
	page := &pageFake{}
	if err := DefaultOverlay().ApplyText(page, domain.BoundingBox{X1: 10, Y1: 10}, "line one\nline two"); err != nil {
		t.Fatalf("ApplyText() error = %v", err)
	}
	if got := page.opsOfKind("text")[0].text; got != "line one line two" {
		t.Fatalf("expected single line text, got %q", got)
	}
}

func TestApplyTextOverflowPolicies(t *testing.T) {
	box := domain.BoundingBox{X0: 0, Y0: 0, X1: 20, Y1: 10}
	// Each rune is 5pt wide at size 10, so the box fits four runes.
	value := "12345678"

	overlay := DefaultOverlay()
	page := &pageFake{}
	if err := overlay.ApplyText(page, box, value); err != nil {
		t.Fatalf("ApplyText() error = %v", err)
	}
	if op := page.opsOfKind("text")[0]; op.text != value || op.style.FontSize != 10 {
		t.Fatalf("overflow policy must draw as is, got %+v", op)
	}

	overlay.Overflow = domain.OverflowShrink
	page = &pageFake{}
	if err := overlay.ApplyText(page, box, value); err != nil {
		t.Fatalf("ApplyText() error = %v", err)
	}
	if op := page.opsOfKind("text")[0]; op.text != value || op.style.FontSize != 5 {
		t.Fatalf("shrink policy expected font size 5, got %+v", op)
	}

	overlay.Overflow = domain.OverflowClip
	page = &pageFake{}
	if err := overlay.ApplyText(page, box, value); err != nil {
		t.Fatalf("ApplyText() error = %v", err)
	}
	if op := page.opsOfKind("text")[0]; op.text != "1234" || op.style.FontSize != 10 {
		t.Fatalf("clip policy expected %q, got %+v", "1234", op)
	}
}

func TestApplyTextShrinkStopsAtMinimumSize(t *testing.T) {
	overlay := DefaultOverlay()
	overlay.Overflow = domain.OverflowShrink
	page := &pageFake{}

	if err := overlay.ApplyText(page, domain.BoundingBox{X1: 1, Y1: 10}, "a long replacement value"); err != nil {
		t.Fatalf("ApplyText() error = %v", err)
	}
	if size := page.opsOfKind("text")[0].style.FontSize; size != minShrinkFontSize {
		t.Fatalf("expected font size floor %v, got %v", minShrinkFontSize, size)
	}
}

func TestApplyImageClampsSignatureRectangle(t *testing.T) {
	page := &pageFake{}
	box := domain.BoundingBox{X0: 100, Y0: 200, X1: 200, Y1: 220}

	if err := DefaultOverlay().ApplyImage(page, box, testSignature); err != nil {
		t.Fatalf("ApplyImage() error = %v", err)
	}
	if len(page.ops) != 1 || page.ops[0].kind != "image" {
		t.Fatalf("expected a single image op without fill, got %+v", page.ops)
	}
	want := domain.BoundingBox{X0: 100, Y0: 200, X1: 250, Y1: 240}
	if page.ops[0].box != want {
		t.Fatalf("expected placement %+v, got %+v", want, page.ops[0].box)
	}
}

func TestApplyImageWithBackgroundFill(t *testing.T) {
	overlay := DefaultOverlay()
	overlay.FillSignature = true
	page := &pageFake{}
	box := domain.BoundingBox{X0: 100, Y0: 200, X1: 200, Y1: 220}

	if err := overlay.ApplyImage(page, box, testSignature); err != nil {
		t.Fatalf("ApplyImage() error = %v", err)
	}
	if len(page.ops) != 2 || page.ops[0].kind != "fill" || page.ops[0].box != box {
		t.Fatalf("expected fill of tag box before image, got %+v", page.ops)
	}
}

func TestSignatureRectNeverBelowMinimum(t *testing.T) {
	boxes := []domain.BoundingBox{
		{X0: 0, Y0: 0, X1: 1, Y1: 1},
		{X0: 10, Y0: 10, X1: 10, Y1: 10},
		{X0: 50, Y0: 50, X1: 400, Y1: 60},
		{X0: 50, Y0: 50, X1: 60, Y1: 200},
	}
	for _, box := range boxes {
		rect := box.SignatureRect()
		if rect.Width() < domain.MinSignatureWidth || rect.Height() < domain.MinSignatureHeight {
			t.Fatalf("rect %+v for box %+v is below minimum size", rect, box)
		}
		if rect.X0 != box.X0 || rect.Y0 != box.Y0 {
			t.Fatalf("rect %+v must stay anchored at %+v", rect, box)
		}
	}
}

func TestPassReplacesEveryInstance(t *testing.T) {
	tag := "[[[Borr_name]]]"
	boxes := []domain.BoundingBox{
		{X0: 10, Y0: 10, X1: 90, Y1: 22},
		{X0: 10, Y0: 400, X1: 90, Y1: 412},
	}
	doc := newDocumentFake(
		map[string][]domain.BoundingBox{tag: boxes},
		map[string][]domain.BoundingBox{tag: {{X0: 30, Y0: 30, X1: 110, Y1: 42}}},
	)
	observer := newObserverFake()
	pass := NewSubstitutionPass(DefaultOverlay(), domain.PrecedenceText, observer)

	report, err := pass.Run(nil, doc, []domain.TextSubstitution{{Tag: tag, Value: "Jane Doe"}}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Instances != 3 || len(report.Applied) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	fills := append(doc.pages[0].opsOfKind("fill"), doc.pages[1].opsOfKind("fill")...)
	texts := append(doc.pages[0].opsOfKind("text"), doc.pages[1].opsOfKind("text")...)
	if len(fills) != 3 || len(texts) != 3 {
		t.Fatalf("expected 3 overlays, got %d fills and %d texts", len(fills), len(texts))
	}
	seen := map[domain.BoundingBox]bool{}
	for _, fill := range fills {
		if seen[fill.box] {
			t.Fatalf("box %+v painted twice", fill.box)
		}
		seen[fill.box] = true
	}
	if observer.applied[kindText] != 3 {
		t.Fatalf("expected observer to see 3 text instances, got %d", observer.applied[kindText])
	}
}

func TestPassSkipsMissingTagWithoutTouchingOthers(t *testing.T) {
	doc := newDocumentFake(map[string][]domain.BoundingBox{
		"[[[Date]]]": {{X0: 10, Y0: 10, X1: 60, Y1: 20}},
	})
	observer := newObserverFake()
	pass := NewSubstitutionPass(DefaultOverlay(), domain.PrecedenceText, observer)

	report, err := pass.Run(nil, doc, []domain.TextSubstitution{
		{Tag: "[[[Missing]]]", Value: "x"},
		{Tag: "[[[Date]]]", Value: "2024-01-15"},
	}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(report.Missing) != 1 || report.Missing[0] != "[[[Missing]]]" {
		t.Fatalf("expected missing tag in report, got %+v", report)
	}
	ops := doc.allOps()
	if len(ops) != 2 || ops[1].text != "2024-01-15" {
		t.Fatalf("expected only the date overlay, got %+v", ops)
	}
	if observer.missing[kindText] != 1 {
		t.Fatalf("expected one missing tag event, got %+v", observer.missing)
	}
}

func TestPassTextPrecedenceDedupsAcrossMappings(t *testing.T) {
	tag := "[[[Borr_sign]]]"
	doc := newDocumentFake(map[string][]domain.BoundingBox{
		tag: {{X0: 100, Y0: 200, X1: 200, Y1: 220}},
	})
	pass := NewSubstitutionPass(DefaultOverlay(), domain.PrecedenceText, nil)

	report, err := pass.Run(nil, doc,
		[]domain.TextSubstitution{{Tag: tag, Value: "Jane Doe"}},
		[]domain.ImageSubstitution{{Tag: tag, Image: testSignature}},
	)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	page := doc.pages[0]
	if len(page.opsOfKind("text")) != 1 || len(page.opsOfKind("image")) != 0 {
		t.Fatalf("expected text substitution only, got %+v", page.ops)
	}
	if len(report.Skipped) != 1 || report.Skipped[0] != tag {
		t.Fatalf("expected image mapping to be skipped, got %+v", report)
	}
}

func TestPassImagePrecedenceDedupsAcrossMappings(t *testing.T) {
	tag := "[[[Borr_sign]]]"
	doc := newDocumentFake(map[string][]domain.BoundingBox{
		tag: {{X0: 100, Y0: 200, X1: 200, Y1: 220}},
	})
	pass := NewSubstitutionPass(DefaultOverlay(), domain.PrecedenceImage, nil)

	if _, err := pass.Run(nil, doc,
		[]domain.TextSubstitution{{Tag: tag, Value: "Jane Doe"}},
		[]domain.ImageSubstitution{{Tag: tag, Image: testSignature}},
	); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	page := doc.pages[0]
	if len(page.opsOfKind("image")) != 1 || len(page.opsOfKind("text")) != 0 {
		t.Fatalf("expected image substitution only, got %+v", page.ops)
	}
}

func TestPassSkipsEmptyAndUndecodableSignatures(t *testing.T) {
	doc := newDocumentFake(map[string][]domain.BoundingBox{
		"[[[Borr_sign]]]":   {{X0: 100, Y0: 200, X1: 200, Y1: 220}},
		"[[[CoBorr_sign]]]": {{X0: 100, Y0: 300, X1: 200, Y1: 320}},
	})
	pass := NewSubstitutionPass(DefaultOverlay(), domain.PrecedenceText, nil)

	report, err := pass.Run(nil, doc, nil, []domain.ImageSubstitution{
		{Tag: "[[[Borr_sign]]]"},
		{Tag: "[[[CoBorr_sign]]]", Err: domain.WrapError(domain.ErrImageDecode, "decode", errors.New("bad"))},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(doc.allOps()) != 0 {
		t.Fatalf("expected no overlays, got %+v", doc.allOps())
	}
	if len(report.Applied) != 0 {
		t.Fatalf("expected nothing applied, got %+v", report)
	}
}

func TestPassFailsOnDrawError(t *testing.T) {
	doc := newDocumentFake(map[string][]domain.BoundingBox{
		"[[[Date]]]": {{X0: 10, Y0: 10, X1: 60, Y1: 20}},
	})
	doc.pages[0].drawErr = errors.New("stamp failed")
	pass := NewSubstitutionPass(DefaultOverlay(), domain.PrecedenceText, nil)

	if _, err := pass.Run(nil, doc, []domain.TextSubstitution{{Tag: "[[[Date]]]", Value: "x"}}, nil); err == nil {
		t.Fatalf("expected draw error")
	}
}

func TestPassOnSignedOutputIsNoop(t *testing.T) {
	signed := newDocumentFake(map[string][]domain.BoundingBox{})
	pass := NewSubstitutionPass(DefaultOverlay(), domain.PrecedenceText, nil)

	report, err := pass.Run(nil, signed,
		[]domain.TextSubstitution{{Tag: "[[[Date]]]", Value: "2024-01-15"}},
		[]domain.ImageSubstitution{{Tag: "[[[Borr_sign]]]", Image: testSignature}},
	)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(signed.allOps()) != 0 || report.Instances != 0 {
		t.Fatalf("expected unchanged document, got %+v", signed.allOps())
	}
}
