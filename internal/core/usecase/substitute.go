package usecase

import (
	"fmt"
	"log/slog"

	"github.com/kirillkom/docsign/internal/core/domain"
	"github.com/kirillkom/docsign/internal/core/ports"
)

const (
	kindText      = "text"
	kindSignature = "signature"
)

// PassReport summarizes one substitution pass over a document.
type PassReport struct {
	Applied   []string
	Instances int
	Missing   []string
	Skipped   []string
}

// SubstitutionPass resolves every tag of a document at most once. Once a tag
// string is applied it is never substituted again within the same document,
// even if the other mapping declares it too.
type SubstitutionPass struct {
	overlay    Overlay
	precedence domain.Precedence
	observer   ports.SigningObserver
}

func NewSubstitutionPass(overlay Overlay, precedence domain.Precedence, observer ports.SigningObserver) *SubstitutionPass {
	if precedence == "" {
		precedence = domain.PrecedenceText
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &SubstitutionPass{overlay: overlay, precedence: precedence, observer: observer}
}

func (p *SubstitutionPass) Run(
	logger *slog.Logger,
	doc ports.Document,
	texts []domain.TextSubstitution,
	images []domain.ImageSubstitution,
) (PassReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	applied := make(map[string]struct{})
	var report PassReport

	textStep := func() error {
		for _, sub := range texts {
			value := sub.Value
			err := p.substitute(logger, doc, kindText, sub.Tag, applied, &report, func(page ports.Page, box domain.BoundingBox) error {
				return p.overlay.ApplyText(page, box, value)
			})
			if err != nil {
				return err
			}
		}
		return nil
	}
	imageStep := func() error {
		for _, sub := range images {
			if sub.Err != nil {
				logger.Warn("signature_skipped", "tag", sub.Tag, "error", sub.Err)
				report.Skipped = append(report.Skipped, sub.Tag)
				continue
			}
			if sub.Image.Empty() {
				continue
			}
			img := sub.Image
			err := p.substitute(logger, doc, kindSignature, sub.Tag, applied, &report, func(page ports.Page, box domain.BoundingBox) error {
				return p.overlay.ApplyImage(page, box, img)
			})
			if err != nil {
				return err
			}
		}
		return nil
	}

	steps := []func() error{textStep, imageStep}
	if p.precedence == domain.PrecedenceImage {
		steps = []func() error{imageStep, textStep}
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (p *SubstitutionPass) substitute(
	logger *slog.Logger,
	doc ports.Document,
	kind, tag string,
	applied map[string]struct{},
	report *PassReport,
	apply func(ports.Page, domain.BoundingBox) error,
) error {
	if _, done := applied[tag]; done {
		logger.Debug("tag_already_applied", "tag", tag, "kind", kind)
		report.Skipped = append(report.Skipped, tag)
		return nil
	}

	instances, err := Locate(doc, tag)
	if err != nil {
		return domain.WrapError(domain.ErrDocumentLoad, "locate "+kind+" tag", err)
	}
	if len(instances) == 0 {
		logger.Warn("tag_not_found", "tag", tag, "kind", kind, "error", domain.ErrTagNotFound)
		report.Missing = append(report.Missing, tag)
		p.observer.TagMissing(kind)
		return nil
	}

	for i, inst := range instances {
		page, err := doc.Page(inst.PageIndex)
		if err != nil {
			return fmt.Errorf("open page %d: %w", inst.PageIndex, err)
		}
		if err := apply(page, inst.Box); err != nil {
			return fmt.Errorf("apply %s tag %q instance %d/%d: %w", kind, tag, i+1, len(instances), err)
		}
		logger.Debug("tag_instance_replaced",
			"tag", tag,
			"kind", kind,
			"instance", i+1,
			"instances", len(instances),
			"page", inst.PageIndex+1,
			"x0", inst.Box.X0,
			"y0", inst.Box.Y0,
		)
	}

	applied[tag] = struct{}{}
	report.Applied = append(report.Applied, tag)
	report.Instances += len(instances)
	p.observer.TagApplied(kind, len(instances))
	return nil
}

type noopObserver struct{}

func (noopObserver) TagApplied(string, int)                          {}
func (noopObserver) TagMissing(string)                               {}
func (noopObserver) DocumentFinished(domain.DocumentStatus, float64) {}
func (noopObserver) BatchFinished(domain.BatchStatus, float64)       {}
