package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/document"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// ExtractorConfig controls product extraction.
type ExtractorConfig struct {
	Selectors Selectors
	// Resume keeps products already present in the run's final artifact and
	// skips fetching their links again.
	Resume bool
	// TextMode defaults to TextOwn.
	TextMode TextMode
}

// Extractor fetches every staged link and extracts one RawProduct per page.
type Extractor struct {
	fetcher   Fetcher
	store     StagedStore
	pacer     Pacer
	clock     Clock
	selectors compiledSelectors
	resume    bool
	textMode  TextMode
	logger    *zap.Logger
}

// NewExtractor wires an Extractor.
func NewExtractor(fetcher Fetcher, store StagedStore, pacer Pacer, clock Clock, cfg ExtractorConfig, logger *zap.Logger) (*Extractor, error) {
	if fetcher == nil || store == nil || pacer == nil || clock == nil {
		return nil, errors.New("fetcher, store, pacer and clock are required")
	}
	if err := cfg.Selectors.Validate(); err != nil {
		return nil, err
	}
	textMode, err := ParseTextMode(string(cfg.TextMode))
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		fetcher:   fetcher,
		store:     store,
		pacer:     pacer,
		clock:     clock,
		selectors: cfg.Selectors.compile(),
		resume:    cfg.Resume,
		textMode:  textMode,
		logger:    logger,
	}, nil
}

type extraction struct {
	final  []RawProduct
	failed []FailedLink
}

// Extract processes the run's staged links. A link that cannot be fetched or
// parsed is recorded in the unprocessed artifact and the loop continues.
// Cancellation persists what has been gathered and returns the context error.
func (e *Extractor) Extract(ctx context.Context, runID string) (ExtractSummary, error) {
	var staged StagePayload
	if err := e.store.ReadStage(ctx, runID, StageLinks, &staged); err != nil {
		return ExtractSummary{}, fmt.Errorf("%w: %w", ErrStageRead, err)
	}
	links := NewLinkSet(staged.Links...)

	state := &extraction{final: []RawProduct{}, failed: []FailedLink{}}
	done, err := e.resumeFrom(ctx, runID, links, state)
	if err != nil {
		return ExtractSummary{}, err
	}
	e.logger.Info("product extraction started",
		zap.String("run_id", runID),
		zap.Int("links", links.Len()),
		zap.Int("already_extracted", len(done)),
	)

	for _, link := range links.Links() {
		if _, ok := done[link]; ok {
			continue
		}
		if ctx.Err() != nil {
			return e.checkpoint(ctx, runID, state)
		}
		product, err := e.extractOne(ctx, link)
		if err != nil {
			if ctx.Err() != nil {
				return e.checkpoint(ctx, runID, state)
			}
			e.logger.Warn("product extraction failed", zap.String("link", link), zap.Error(err))
			state.failed = append(state.failed, FailedLink{Link: link, Reason: err.Error()})
			metrics.ObserveProduct(runID, "failed")
			continue
		}
		state.final = append(state.final, product)
		metrics.ObserveProduct(runID, "ok")
	}

	summary, err := e.persist(ctx, runID, state)
	if err != nil {
		return summary, err
	}
	e.logger.Info("product extraction finished",
		zap.String("run_id", runID),
		zap.Int("final", summary.Final),
		zap.Int("unprocessed", summary.Unprocessed),
	)
	return summary, nil
}

func (e *Extractor) resumeFrom(ctx context.Context, runID string, links *LinkSet, state *extraction) (map[Link]struct{}, error) {
	done := map[Link]struct{}{}
	if !e.resume {
		return done, nil
	}
	var previous []RawProduct
	if err := e.store.ReadStage(ctx, runID, StageFinal, &previous); err != nil {
		if errors.Is(err, ErrArtifactNotFound) {
			return done, nil
		}
		return nil, fmt.Errorf("load previous products: %w", err)
	}
	for _, p := range previous {
		if !links.Contains(p.Link) {
			continue
		}
		if _, ok := done[p.Link]; ok {
			continue
		}
		done[p.Link] = struct{}{}
		state.final = append(state.final, p)
	}
	return done, nil
}

func (e *Extractor) extractOne(ctx context.Context, link Link) (RawProduct, error) {
	result, err := fetchPaced(ctx, e.fetcher, e.pacer, Request{Method: http.MethodGet, URL: link})
	if err != nil {
		return RawProduct{}, err
	}
	if !result.Available() {
		if result.StatusCode != 0 {
			return RawProduct{}, fmt.Errorf("%w: %s (status %d)", ErrPageNotFound, link, result.StatusCode)
		}
		return RawProduct{}, fmt.Errorf("%w: %s", ErrPageNotFound, link)
	}
	doc := document.ParseBytes(result.Response.Body)
	return RawProduct{
		CreateDate:       e.clock.Now().UTC().Truncate(time.Second),
		Link:             link,
		ID:               e.field(doc, e.selectors.id),
		Name:             e.field(doc, e.selectors.name),
		RegularPrice:     e.field(doc, e.selectors.regularPrice),
		PromotionalPrice: e.field(doc, e.selectors.promotionalPrice),
		Brand:            e.field(doc, e.selectors.brand),
	}, nil
}

// field reads the first match of sel. An unmatched selector, or a match
// without leading text in TextOwn mode, yields nil.
func (e *Extractor) field(doc *document.Document, sel document.Selector) *string {
	node, ok := doc.First(sel)
	if !ok {
		return nil
	}
	if e.textMode == TextFull {
		text := node.Text()
		return &text
	}
	text, ok := node.OwnText()
	if !ok {
		return nil
	}
	return &text
}

func (e *Extractor) checkpoint(ctx context.Context, runID string, state *extraction) (ExtractSummary, error) {
	e.logger.Warn("product extraction interrupted, saving progress",
		zap.String("run_id", runID),
		zap.Int("final", len(state.final)),
		zap.Int("unprocessed", len(state.failed)),
	)
	interrupted := fmt.Errorf("product extraction interrupted: %w", ctx.Err())
	summary, err := e.persist(context.WithoutCancel(ctx), runID, state)
	if err != nil {
		return summary, errors.Join(interrupted, err)
	}
	return summary, interrupted
}

// persist writes the unprocessed artifact first and the final one second.
func (e *Extractor) persist(ctx context.Context, runID string, state *extraction) (ExtractSummary, error) {
	summary := ExtractSummary{Final: len(state.final), Unprocessed: len(state.failed)}
	if err := e.store.WriteStage(ctx, runID, StageUnprocessed, state.failed); err != nil {
		return summary, fmt.Errorf("persist unprocessed links: %w", err)
	}
	if err := e.store.WriteStage(ctx, runID, StageFinal, state.final); err != nil {
		return summary, fmt.Errorf("persist products: %w", err)
	}
	return summary, nil
}
