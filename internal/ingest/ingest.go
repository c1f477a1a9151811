// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

// Package ingest turns documents into memories. Small documents become a
// single memory; large ones become a root summary memory plus one child
// memory per section, linked through the waypoint graph.
//
// Memory creation and text extraction are collaborator interfaces: the
// pipeline decides structure, not embedding or classification.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/engramdb/engram/internal/store"
	engramerr "github.com/engramdb/engram/pkg/errors"
	"github.com/engramdb/engram/pkg/types"
)

const (
	// largeDocTokenThreshold is the estimated-token count above which a
	// document is split into root and children.
	largeDocTokenThreshold = 8000

	// tokenCharRatio approximates tokens from characters.
	tokenCharRatio = 4

	// rootSummaryLength is how much of the document the root memory keeps.
	rootSummaryLength = 500
)

// MemoryInput is what the pipeline asks its collaborator to persist. An
// empty Sector leaves classification to the collaborator.
type MemoryInput struct {
	Content   string
	Sector    types.Sector
	Namespace string
	Metadata  types.Payload
}

// MemoryCreator persists one memory and returns its id. Implementations
// own embedding and sector classification.
type MemoryCreator interface {
	CreateMemory(ctx context.Context, in *MemoryInput) (string, error)
}

// Extractor fetches and extracts readable text from a URL.
type Extractor interface {
	Extract(ctx context.Context, url string) (title, text string, err error)
}

// Strategy names how a document was stored.
type Strategy string

const (
	StrategySingle    Strategy = "single"
	StrategyRootChild Strategy = "root-child"
)

// Status reports ingestion completeness.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
)

// Request describes one document to ingest.
type Request struct {
	Title     string
	Content   string
	Namespace string
	SourceURL string
	// ForceRoot forces the root-child strategy regardless of size.
	ForceRoot bool
	Metadata  types.Payload
}

// Result reports what was created. For the root-child strategy a partial
// failure keeps the sections committed before the failure: Status is
// StatusPartial, FailedSection holds the failing index, and Err the cause.
type Result struct {
	Strategy      Strategy
	Status        Status
	RootID        string   // root-child only
	ChildIDs      []string // root-child only, in section order
	MemoryID      string   // single only
	TotalSections int
	TotalTokens   int
	FailedSection int // -1 unless Status is StatusPartial
	Err           error
}

// ChildCount is the number of section memories actually committed.
func (r *Result) ChildCount() int { return len(r.ChildIDs) }

// Pipeline wires the collaborators together.
type Pipeline struct {
	creator   MemoryCreator
	waypoints store.WaypointStore
	extractor Extractor
	logger    *slog.Logger
}

// NewPipeline builds a pipeline. extractor may be nil when IngestURL is
// not used.
func NewPipeline(creator MemoryCreator, waypoints store.WaypointStore, extractor Extractor, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		creator:   creator,
		waypoints: waypoints,
		extractor: extractor,
		logger:    logger.With("component", "ingest"),
	}
}

// EstimateTokens approximates the token count of text.
func EstimateTokens(text string) int {
	return len(text) / tokenCharRatio
}

// IngestDocument stores one document, choosing between the single and
// root-child strategies.
func (p *Pipeline) IngestDocument(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || req.Content == "" {
		return nil, engramerr.New(engramerr.CodeIngestInvalidInput, "document content is required")
	}

	if req.ForceRoot || EstimateTokens(req.Content) > largeDocTokenThreshold {
		return p.ingestRootChild(ctx, req)
	}
	return p.ingestSingle(ctx, req)
}

// IngestURL extracts a document from url and ingests it. The source URL
// rides along in the stored metadata.
func (p *Pipeline) IngestURL(ctx context.Context, url, namespace string) (*Result, error) {
	if p.extractor == nil {
		return nil, engramerr.New(engramerr.CodeIngestExtractFailure, "no extractor configured")
	}
	if url == "" {
		return nil, engramerr.New(engramerr.CodeIngestInvalidInput, "url is required")
	}

	title, text, err := p.extractor.Extract(ctx, url)
	if err != nil {
		return nil, engramerr.Wrap(err, engramerr.CodeIngestExtractFailure, "extracting document",
			engramerr.Field("url", url))
	}
	if text == "" {
		return nil, engramerr.New(engramerr.CodeIngestExtractFailure, "extracted document is empty",
			engramerr.Field("url", url))
	}

	return p.IngestDocument(ctx, &Request{
		Title:     title,
		Content:   text,
		Namespace: namespace,
		SourceURL: url,
		Metadata:  types.Payload{"source_url": url},
	})
}

func (p *Pipeline) ingestSingle(ctx context.Context, req *Request) (*Result, error) {
	meta := p.baseMetadata(req)
	meta["ingestion_strategy"] = string(StrategySingle)

	id, err := p.creator.CreateMemory(ctx, &MemoryInput{
		Content:   req.Content,
		Namespace: req.Namespace,
		Metadata:  meta,
	})
	if err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeIngestStoreFailure, "creating memory")
	}

	return &Result{
		Strategy:      StrategySingle,
		Status:        StatusCompleted,
		MemoryID:      id,
		TotalSections: 1,
		TotalTokens:   EstimateTokens(req.Content),
		FailedSection: -1,
	}, nil
}

// ingestRootChild creates the root summary first, then each section
// strictly in order. Sections committed before a failure stay committed;
// the result records where ingestion stopped.
func (p *Pipeline) ingestRootChild(ctx context.Context, req *Request) (*Result, error) {
	sections := SplitSections(req.Content)
	if len(sections) == 0 {
		return nil, engramerr.New(engramerr.CodeIngestInvalidInput, "document has no sections")
	}

	summary := req.Content
	if len(summary) > rootSummaryLength {
		// Back off to a rune boundary so the cut never leaves invalid UTF-8.
		cut := rootSummaryLength
		for cut > 0 && !utf8.RuneStart(summary[cut]) {
			cut--
		}
		summary = summary[:cut] + "..."
	}

	rootMeta := p.baseMetadata(req)
	rootMeta["is_root"] = true
	rootMeta["ingestion_strategy"] = string(StrategyRootChild)
	rootMeta["total_sections"] = len(sections)

	rootID, err := p.creator.CreateMemory(ctx, &MemoryInput{
		Content:   summary,
		Sector:    types.SectorReflective,
		Namespace: req.Namespace,
		Metadata:  rootMeta,
	})
	if err != nil {
		return nil, engramerr.Wrapf(err, engramerr.CodeIngestStoreFailure, "creating root memory")
	}

	result := &Result{
		Strategy:      StrategyRootChild,
		Status:        StatusCompleted,
		RootID:        rootID,
		TotalSections: len(sections),
		TotalTokens:   EstimateTokens(req.Content),
		FailedSection: -1,
	}

	for i, section := range sections {
		childMeta := p.baseMetadata(req)
		childMeta["parent_id"] = rootID
		childMeta["section_index"] = i
		childMeta["total_sections"] = len(sections)

		childID, err := p.creator.CreateMemory(ctx, &MemoryInput{
			Content:   section,
			Namespace: req.Namespace,
			Metadata:  childMeta,
		})
		if err != nil {
			return p.partial(result, i, engramerr.Wrap(err, engramerr.CodeIngestStoreFailure,
				"creating section memory", engramerr.Field("section_index", i))), nil
		}

		var namespaces []string
		if req.Namespace != "" {
			namespaces = []string{req.Namespace}
		}
		if _, err := p.waypoints.Link(ctx, rootID, childID, namespaces); err != nil {
			return p.partial(result, i, engramerr.Wrap(err, engramerr.CodeIngestStoreFailure,
				"linking section waypoint", engramerr.Field("section_index", i))), nil
		}

		result.ChildIDs = append(result.ChildIDs, childID)
	}
	return result, nil
}

func (p *Pipeline) partial(result *Result, section int, err error) *Result {
	p.logger.Warn("document partially ingested",
		slog.String("root_id", result.RootID),
		slog.Int("failed_section", section),
		slog.Int("committed", len(result.ChildIDs)),
		slog.String("error", err.Error()))

	result.Status = StatusPartial
	result.FailedSection = section
	result.Err = err
	return result
}

func (p *Pipeline) baseMetadata(req *Request) types.Payload {
	meta := req.Metadata.Clone()
	if meta == nil {
		meta = types.Payload{}
	}
	if req.Title != "" {
		meta["title"] = req.Title
	}
	if req.SourceURL != "" {
		meta["source_url"] = req.SourceURL
	}
	return meta
}

// Describe renders a short human-readable summary of the result, used by
// CLI output.
func (r *Result) Describe() string {
	switch r.Strategy {
	case StrategySingle:
		return fmt.Sprintf("stored as single memory %s", r.MemoryID)
	case StrategyRootChild:
		if r.Status == StatusPartial {
			return fmt.Sprintf("stored root %s with %d/%d sections (failed at %d)",
				r.RootID, len(r.ChildIDs), r.TotalSections, r.FailedSection)
		}
		return fmt.Sprintf("stored root %s with %d sections", r.RootID, r.TotalSections)
	}
	return "unknown strategy"
}
