package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"go.uber.org/zap"

	"github.com/yourorg/certificate-service/internal/version"
	"github.com/yourorg/certificate-service/pkg/db/models"
	"github.com/yourorg/certificate-service/pkg/element"
	"github.com/yourorg/certificate-service/pkg/metrics"
)

// Render modes
const (
	ModePreview = "preview"
	ModeIssue   = "issue"
)

// Options selects what a design is rendered for
type Options struct {
	Preview bool
	Issue   *models.Issue
	// User is the previewing user
	User *models.User
	Now  time.Time
}

func (o Options) mode() string {
	if o.Preview || o.Issue == nil {
		return ModePreview
	}
	return ModeIssue
}

// Generator renders template designs
type Generator struct {
	registry *element.Registry
	files    element.FileStore
	links    element.Links
	logger   *zap.Logger
}

// NewGenerator creates a PDF generator
func NewGenerator(registry *element.Registry, files element.FileStore, links element.Links, logger *zap.Logger) *Generator {
	return &Generator{
		registry: registry,
		files:    files,
		links:    links,
		logger:   logger,
	}
}

// Generate renders a design loaded with its pages and elements. Pages are
// drawn in sequence order and elements in layer order.
func (g *Generator) Generate(ctx context.Context, design *models.Template, opts Options) ([]byte, error) {
	start := time.Now()
	if opts.Issue == nil {
		opts.Preview = true
	}

	doc := fpdf.NewCustom(&fpdf.InitType{UnitStr: "mm", Size: fpdf.SizeType{Wd: 297, Ht: 210}})
	doc.SetAutoPageBreak(false, 0)
	doc.SetCreator(version.GetInfo().Product(), true)
	doc.SetTitle(documentTitle(design, opts), true)
	if opts.Issue != nil && !opts.Preview {
		doc.SetSubject(opts.Issue.UserFullName(), true)
		doc.SetKeywords(opts.Issue.Code, true)
		doc.SetCreationDate(opts.Issue.CreatedAt)
	}

	surface := NewSurface(doc)
	for _, page := range design.Pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// portrait keeps Wd and Ht as given; landscape would swap them
		doc.SetMargins(page.LeftMargin, page.TopMargin, page.RightMargin)
		doc.SetAutoPageBreak(false, page.BottomMargin)
		doc.AddPageFormat("P", fpdf.SizeType{Wd: page.Width, Ht: page.Height})

		for i := range page.Elements {
			if err := g.renderElement(ctx, surface, design, &page.Elements[i], opts); err != nil {
				return nil, err
			}
		}
	}
	if doc.PageCount() == 0 {
		doc.AddPage()
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write pdf: %w", err)
	}

	elapsed := time.Since(start)
	metrics.ObservePDFRender(opts.mode(), elapsed)
	g.logger.Debug("pdf generated",
		zap.Uint64("template_id", design.ID),
		zap.String("mode", opts.mode()),
		zap.Int("pages", len(design.Pages)),
		zap.Int("bytes", buf.Len()),
		zap.Duration("elapsed", elapsed))

	return buf.Bytes(), nil
}

func (g *Generator) renderElement(ctx context.Context, s *Surface, design *models.Template, el *models.Element, opts Options) error {
	variant, err := g.registry.Get(el.Type)
	if err != nil {
		g.logger.Warn("skipping element of unknown type",
			zap.Uint64("element_id", el.ID),
			zap.String("type", el.Type))
		return nil
	}

	rc := &element.RenderContext{
		Element:  el,
		Template: design,
		Preview:  opts.Preview,
		User:     opts.User,
		Issue:    opts.Issue,
		Files:    g.files,
		Links:    g.links,
		Now:      opts.Now,
	}
	if err := variant.Render(ctx, s, rc); err != nil {
		return fmt.Errorf("failed to render element %d (%s): %w", el.ID, el.Type, err)
	}
	return nil
}

func documentTitle(design *models.Template, opts Options) string {
	if opts.Issue != nil && !opts.Preview {
		if name := opts.Issue.TemplateName(); name != "" {
			return name
		}
	}
	return design.Name
}

// Filename returns the download name of a rendered design
func Filename(design *models.Template, opts Options) string {
	if opts.Issue != nil && !opts.Preview {
		return opts.Issue.Code + ".pdf"
	}
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, strings.TrimSpace(design.Name))
	if name == "" {
		name = "certificate"
	}
	return name + ".pdf"
}
