// Package auditor checks stored anchor selectors against live pages.
// Host pages drift: elements get renamed, restructured, or removed, and
// an annotation whose selector no longer resolves silently falls back to
// document coordinates. The auditor drives a headless browser over the
// configured pages, evaluates every stored selector, and reports which
// anchors still hold.
package auditor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"github.com/pinlay/pinlay/anchor"
	"github.com/pinlay/pinlay/comment"
	"github.com/pinlay/pinlay/dom"
	"github.com/pinlay/pinlay/excerpt"
)

// Result is the audit outcome for one annotation.
type Result struct {
	AnnotationID string `json:"annotation_id"`
	Selector     string `json:"selector"`
	Found        bool   `json:"found"`
	// Matches counts elements the selector resolves to. More than one
	// means the anchor is ambiguous and drop repositioning may pick the
	// wrong element.
	Matches int  `json:"matches"`
	Cleared bool `json:"cleared,omitempty"`

	// Excerpt is a short Markdown preview of the matched element, so a
	// reviewer can eyeball whether the anchor still points at the right
	// content.
	Excerpt string `json:"excerpt,omitempty"`
}

// PageReport is the audit outcome for one page.
type PageReport struct {
	PageKey    string   `json:"page_key"`
	URL        string   `json:"url"`
	Checked    int      `json:"checked"`
	Healthy    int      `json:"healthy"`
	Lost       int      `json:"lost"`
	Ambiguous  int      `json:"ambiguous"`
	Unanchored int      `json:"unanchored"`
	Results    []Result `json:"results"`
	Error      string   `json:"error,omitempty"`
}

// Report is the outcome of a full audit run.
type Report struct {
	StartedAt time.Time    `json:"started_at"`
	Duration  string       `json:"duration"`
	Pages     []PageReport `json:"pages"`
}

// Auditor runs anchor health checks.
type Auditor struct {
	cfg      *Config
	store    comment.Store
	logger   *slog.Logger
	excerpts *excerpt.Builder

	browser *rod.Browser
	lnch    *launcher.Launcher
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Auditor) { a.logger = l }
}

// New creates an Auditor over the given store.
func New(cfg *Config, store comment.Store, opts ...Option) *Auditor {
	a := &Auditor{
		cfg:      cfg,
		store:    store,
		logger:   slog.Default(),
		excerpts: excerpt.NewBuilder(0),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run audits every configured page and returns the report. Page-level
// failures (navigation errors, timeouts) are recorded in the report
// instead of aborting the run.
func (a *Auditor) Run(ctx context.Context) (*Report, error) {
	start := time.Now()

	if err := a.connect(); err != nil {
		return nil, err
	}
	defer a.cleanup()

	report := &Report{StartedAt: start}
	for _, page := range a.cfg.Pages {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		report.Pages = append(report.Pages, a.auditPage(ctx, page))
	}

	report.Duration = time.Since(start).String()
	return report, nil
}

func (a *Auditor) connect() error {
	log := a.logger

	var wsURL string
	if a.cfg.Browser.Remote != "" {
		wsURL = a.cfg.Browser.Remote
		log.Info("auditor: connecting to remote browser", "url", wsURL)
	} else {
		l := launcher.New().Headless(a.cfg.Browser.Headless)
		l = l.Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("auditor: launch browser: %w", err)
		}
		wsURL = u
		a.lnch = l
		log.Info("auditor: launched local chrome", "headless", a.cfg.Browser.Headless)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("auditor: connect: %w", err)
	}
	a.browser = b
	return nil
}

func (a *Auditor) cleanup() {
	if a.browser != nil {
		a.browser.Close()
		a.browser = nil
	}
	if a.lnch != nil {
		a.lnch.Cleanup()
		a.lnch = nil
	}
}

func (a *Auditor) auditPage(ctx context.Context, pageCfg PageConfig) PageReport {
	log := a.logger
	report := PageReport{PageKey: pageCfg.Key, URL: pageCfg.URL}

	anns, err := a.store.LoadAll(ctx, pageCfg.Key)
	if err != nil {
		report.Error = err.Error()
		return report
	}
	if len(anns) == 0 {
		return report
	}

	page, err := stealth.Page(a.browser)
	if err != nil {
		report.Error = fmt.Sprintf("open tab: %v", err)
		return report
	}
	defer page.Close()
	page = page.Timeout(a.cfg.Browser.Timeout).Context(ctx)

	if err := page.Navigate(pageCfg.URL); err != nil {
		report.Error = fmt.Sprintf("navigate: %v", err)
		return report
	}
	if err := page.WaitLoad(); err != nil {
		report.Error = fmt.Sprintf("wait load: %v", err)
		return report
	}
	time.Sleep(a.cfg.Audit.LoadWait)

	// One DOM snapshot serves every excerpt lookup on this page.
	var snapshot *dom.Document
	if html, err := page.HTML(); err != nil {
		log.Warn("auditor: page snapshot failed", "page", pageCfg.Key, "error", err)
	} else if snapshot, err = dom.ParseString(html); err != nil {
		log.Warn("auditor: page snapshot parse failed", "page", pageCfg.Key, "error", err)
	}

	changed := false
	for i := range anns {
		ann := &anns[i]
		if ann.Selector == "" {
			report.Unanchored++
			continue
		}

		result := Result{AnnotationID: ann.ID, Selector: ann.Selector}
		result.Matches, err = countMatches(page, ann.Selector)
		if err != nil {
			log.Warn("auditor: selector evaluation failed",
				"page", pageCfg.Key, "annotation", ann.ID, "error", err)
		}
		result.Found = result.Matches > 0
		report.Checked++

		if result.Found && snapshot != nil {
			if md, err := a.excerpts.FromElement(anchor.Resolve(snapshot, ann.Selector)); err == nil {
				result.Excerpt = md
			}
		}

		switch {
		case result.Matches == 1:
			report.Healthy++
		case result.Matches > 1:
			report.Ambiguous++
		default:
			report.Lost++
			if a.cfg.Audit.ClearLost {
				ann.Selector = ""
				result.Cleared = true
				changed = true
			}
		}
		report.Results = append(report.Results, result)
	}

	if changed {
		if err := a.store.SaveAll(ctx, pageCfg.Key, anns); err != nil {
			report.Error = fmt.Sprintf("save cleared selectors: %v", err)
		} else {
			log.Info("auditor: cleared lost selectors",
				"page", pageCfg.Key, "lost", report.Lost)
		}
	}

	log.Info("auditor: page audited", "page", pageCfg.Key,
		"checked", report.Checked, "healthy", report.Healthy,
		"lost", report.Lost, "ambiguous", report.Ambiguous)
	return report
}

// countMatches evaluates the selector in the page. Invalid selectors
// count as zero matches rather than failing the page.
func countMatches(page *rod.Page, selector string) (int, error) {
	res, err := page.Eval(`(sel) => {
		try {
			return document.querySelectorAll(sel).length;
		} catch (e) {
			return 0;
		}
	}`, selector)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}
