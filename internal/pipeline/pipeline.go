// Package pipeline sequences link discovery, product extraction and
// normalization for one run. Each entry operation reads its input from the
// staged store, so every step can be re-run on its own.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/normalize"
)

// LinkDiscoverer collects product links for a run.
type LinkDiscoverer interface {
	Discover(ctx context.Context, runID, listingURL string) (*crawler.LinkSet, error)
}

// ProductExtractor turns staged links into products.
type ProductExtractor interface {
	Extract(ctx context.Context, runID string) (crawler.ExtractSummary, error)
}

// Publisher delivers run events.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator issues unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// ProductSink receives normalized records after the table is written.
type ProductSink interface {
	UpsertProducts(ctx context.Context, runID string, records []normalize.Record) error
}

// Options wires a Pipeline. Publisher and Sink are optional.
type Options struct {
	Discoverer LinkDiscoverer
	Extractor  ProductExtractor
	Store      crawler.StagedStore
	Publisher  Publisher
	Topic      string
	IDs        IDGenerator
	Clock      crawler.Clock
	Sink       ProductSink
	Logger     *zap.Logger
}

// Pipeline runs the entry operations.
type Pipeline struct {
	discoverer LinkDiscoverer
	extractor  ProductExtractor
	store      crawler.StagedStore
	publisher  Publisher
	topic      string
	ids        IDGenerator
	clock      crawler.Clock
	sink       ProductSink
	logger     *zap.Logger
}

// Report summarizes a full run.
type Report struct {
	RunID   string                 `json:"run_id"`
	Links   int                    `json:"links"`
	Extract crawler.ExtractSummary `json:"extract"`
	Rows    int                    `json:"rows"`
}

// RunRequest asks for one full run over a listing.
type RunRequest struct {
	RunID      string `json:"run_id"`
	ListingURL string `json:"listing_url"`
}

// New validates opts and builds a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Discoverer == nil || opts.Extractor == nil || opts.Store == nil {
		return nil, errors.New("discoverer, extractor and store are required")
	}
	if opts.IDs == nil || opts.Clock == nil {
		return nil, errors.New("id generator and clock are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		discoverer: opts.Discoverer,
		extractor:  opts.Extractor,
		store:      opts.Store,
		publisher:  opts.Publisher,
		topic:      opts.Topic,
		ids:        opts.IDs,
		clock:      opts.Clock,
		sink:       opts.Sink,
		logger:     logger,
	}, nil
}

// NewRunID issues an identifier for a run that was not named by the caller.
func (p *Pipeline) NewRunID() (string, error) {
	id, err := p.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("new run id: %w", err)
	}
	return id, nil
}

// DiscoverLinks collects product links from listingURL into the stage artifact.
func (p *Pipeline) DiscoverLinks(ctx context.Context, runID, listingURL string) (*crawler.LinkSet, error) {
	links, err := p.discoverer.Discover(ctx, runID, listingURL)
	event := Event{Operation: OpDiscover, Links: links.Len()}
	p.emit(ctx, runID, event, err)
	if err != nil {
		return links, fmt.Errorf("discover links: %w", err)
	}
	return links, nil
}

// ExtractAll extracts every staged link into the final and unprocessed artifacts.
func (p *Pipeline) ExtractAll(ctx context.Context, runID string) (crawler.ExtractSummary, error) {
	summary, err := p.extractor.Extract(ctx, runID)
	event := Event{Operation: OpExtract, Final: summary.Final, Unprocessed: summary.Unprocessed}
	p.emit(ctx, runID, event, err)
	if err != nil {
		return summary, fmt.Errorf("extract products: %w", err)
	}
	return summary, nil
}

// Normalize cleans the final artifact and writes the table. When a sink is
// configured the records are exported after the table is persisted.
func (p *Pipeline) Normalize(ctx context.Context, runID string) (normalize.Table, error) {
	table, err := p.normalize(ctx, runID)
	p.emit(ctx, runID, Event{Operation: OpNormalize, Rows: table.Len()}, err)
	if err != nil {
		return table, fmt.Errorf("normalize products: %w", err)
	}
	return table, nil
}

func (p *Pipeline) normalize(ctx context.Context, runID string) (normalize.Table, error) {
	var products []crawler.RawProduct
	if err := p.store.ReadStage(ctx, runID, crawler.StageFinal, &products); err != nil {
		return normalize.Table{}, err
	}
	p.logger.Info("normalization started", zap.String("run_id", runID), zap.Int("products", len(products)))

	table, err := normalize.Normalize(products)
	if err != nil {
		return normalize.Table{}, err
	}
	if err := p.store.WriteTable(ctx, runID, table.Rows()); err != nil {
		return normalize.Table{}, err
	}
	if p.sink != nil {
		if err := p.sink.UpsertProducts(ctx, runID, table.Records()); err != nil {
			return table, fmt.Errorf("export products: %w", err)
		}
		p.logger.Info("products exported", zap.String("run_id", runID), zap.Int("rows", table.Len()))
	}
	p.logger.Info("normalization finished", zap.String("run_id", runID), zap.Int("rows", table.Len()))
	return table, nil
}

// Run executes the three entry operations in order. A listing without links
// ends the run early.
func (p *Pipeline) Run(ctx context.Context, runID, listingURL string) (Report, error) {
	report := Report{RunID: runID}

	links, err := p.DiscoverLinks(ctx, runID, listingURL)
	report.Links = links.Len()
	if err != nil {
		return report, err
	}
	if links.Len() == 0 {
		p.logger.Warn("no product links discovered, stopping run", zap.String("run_id", runID))
		return report, nil
	}

	report.Extract, err = p.ExtractAll(ctx, runID)
	if err != nil {
		return report, err
	}

	table, err := p.Normalize(ctx, runID)
	report.Rows = table.Len()
	if err != nil {
		return report, err
	}
	return report, nil
}

func (p *Pipeline) emit(ctx context.Context, runID string, event Event, opErr error) {
	if p.publisher == nil {
		return
	}
	event.RunID = runID
	event.OccurredAt = p.clock.Now().UTC()
	event.Status = StatusCompleted
	switch {
	case opErr == nil:
	case errors.Is(opErr, context.Canceled) || errors.Is(opErr, context.DeadlineExceeded):
		event.Status = StatusInterrupted
		event.Error = opErr.Error()
	default:
		event.Status = StatusFailed
		event.Error = opErr.Error()
	}
	id, err := p.ids.NewID()
	if err != nil {
		p.logger.Warn("event id generation failed", zap.Error(err))
		return
	}
	event.ID = id

	msgID, err := p.publisher.Publish(context.WithoutCancel(ctx), p.topic, event)
	if err != nil {
		p.logger.Warn("run event publish failed",
			zap.String("run_id", runID),
			zap.String("operation", string(event.Operation)),
			zap.Error(err),
		)
		return
	}
	p.logger.Debug("run event published",
		zap.String("run_id", runID),
		zap.String("operation", string(event.Operation)),
		zap.String("message_id", msgID),
	)
}
