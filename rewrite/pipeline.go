// Package rewrite sanitizes scraped search result pages: it strips ads,
// branding and tracking, collapses long sections, and relinks every resource
// and outbound link through the proxy so the origin never sees the client.
package rewrite

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"searchveil/classmap"
)

var ErrNoKey = errors.New("rewrite: missing session key")

// Stage is one ordered tree rewrite. Apply must be total: a document without
// matching elements is left unchanged.
type Stage interface {
	Name() string
	Apply(d *Document)
}

// Stats summarises one run.
type Stats struct {
	// Shielded counts element references relinked through the proxy.
	Shielded int
	Removed  int
	Stages   []string
}

// Result is the output of Sanitize.
type Result struct {
	HTML string
	Stats
}

// Pipeline applies the stages in order. It holds only read-only state and is
// safe for concurrent use.
type Pipeline struct {
	classes *classmap.Map
	vocab   *Vocabulary
	logger  *zap.Logger
	stages  []Stage
	skip    map[string]bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. Stage diagnostics are logged at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithoutStages disables the named stages.
func WithoutStages(names ...string) Option {
	return func(p *Pipeline) {
		for _, n := range names {
			p.skip[n] = true
		}
	}
}

// New builds the standard pipeline. Nil arguments fall back to the defaults.
func New(classes *classmap.Map, vocab *Vocabulary, opts ...Option) *Pipeline {
	if classes == nil {
		classes = classmap.Default()
	}
	if vocab == nil {
		vocab = DefaultVocabulary()
	}
	p := &Pipeline{
		classes: classes,
		vocab:   vocab,
		logger:  zap.NewNop(),
		skip:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	all := []Stage{
		canonicalizeStage{},
		adStage{},
		mediaStage{},
		blockStage{},
		tabStage{},
		collapseStage{},
		escapedScriptStage{},
		staleMetadataStage{},
		resourceStage{},
		styleStage{},
		faviconStage{},
		anchorStage{},
		siteAltStage{},
		cleanupStage{},
	}
	for _, s := range all {
		if !p.skip[s.Name()] {
			p.stages = append(p.stages, s)
		}
	}
	return p
}

// Stages lists the active stage names in order.
func (p *Pipeline) Stages() []string {
	out := make([]string, len(p.stages))
	for i, s := range p.stages {
		out[i] = s.Name()
	}
	return out
}

// Sanitize parses raw, rewrites it and renders the result.
func (p *Pipeline) Sanitize(raw string, ctx Context, key []byte) (*Result, error) {
	if len(key) == 0 {
		return nil, ErrNoKey
	}
	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("rewrite: parse: %w", err)
	}
	stats := p.Clean(root, ctx, key)
	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return nil, fmt.Errorf("rewrite: render: %w", err)
	}
	return &Result{HTML: buf.String(), Stats: stats}, nil
}

// Clean rewrites root in place.
func (p *Pipeline) Clean(root *html.Node, ctx Context, key []byte) Stats {
	d := newDocument(p, root, ctx, key)
	for _, s := range p.stages {
		before := d.stats.Shielded
		s.Apply(d)
		removed := d.sweep()
		d.stats.Stages = append(d.stats.Stages, s.Name())
		if removed > 0 || d.stats.Shielded != before {
			p.logger.Debug("stage applied",
				zap.String("stage", s.Name()),
				zap.Int("removed", removed),
				zap.Int("shielded", d.stats.Shielded-before))
		}
	}
	return d.stats
}

type canonicalizeStage struct{}

func (canonicalizeStage) Name() string { return "canonicalize" }

func (canonicalizeStage) Apply(d *Document) {
	d.p.classes.Canonicalize(d.Root)
}
