package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/document"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// DiscovererConfig controls link discovery.
type DiscovererConfig struct {
	// BaseURL is the authority product hrefs are resolved against. The
	// listing URL's scheme and host are used when empty.
	BaseURL   string
	Selectors Selectors
}

// Discoverer walks a paginated catalogue listing and collects product links.
type Discoverer struct {
	fetcher   Fetcher
	store     StagedStore
	pacer     Pacer
	base      *url.URL
	selectors compiledSelectors
	logger    *zap.Logger
}

// NewDiscoverer wires a Discoverer.
func NewDiscoverer(fetcher Fetcher, store StagedStore, pacer Pacer, cfg DiscovererConfig, logger *zap.Logger) (*Discoverer, error) {
	if fetcher == nil || store == nil || pacer == nil {
		return nil, errors.New("fetcher, store and pacer are required")
	}
	if err := cfg.Selectors.Validate(); err != nil {
		return nil, err
	}
	var base *url.URL
	if strings.TrimSpace(cfg.BaseURL) != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
		}
		base = u
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{
		fetcher:   fetcher,
		store:     store,
		pacer:     pacer,
		base:      base,
		selectors: cfg.Selectors.compile(),
		logger:    logger,
	}, nil
}

// Discover collects every product link reachable from listingURL and writes
// them to the stage artifact. When the listing itself is unavailable an empty
// set is returned and nothing is written. A failing page aborts the walk
// without writing. Cancellation persists the links gathered so far and
// returns the context error.
func (d *Discoverer) Discover(ctx context.Context, runID, listingURL string) (*LinkSet, error) {
	listing, err := url.Parse(listingURL)
	if err != nil || listing.Host == "" {
		return nil, &PageError{URL: listingURL, Err: errors.New("invalid listing url")}
	}
	base := d.base
	if base == nil {
		base = &url.URL{Scheme: listing.Scheme, Host: listing.Host}
	}

	links := NewLinkSet()
	d.logger.Info("link discovery started", zap.String("run_id", runID), zap.String("listing_url", listingURL))

	result, err := fetchPaced(ctx, d.fetcher, d.pacer, Request{Method: http.MethodGet, URL: listingURL})
	if err != nil {
		if ctx.Err() != nil {
			return d.checkpoint(ctx, runID, links)
		}
		return nil, &PageError{URL: listingURL, Err: err}
	}
	if !result.Available() {
		d.logger.Warn("listing unavailable",
			zap.String("url", listingURL),
			zap.Int("status_code", result.StatusCode),
		)
		return links, nil
	}

	lastPage := d.pageCount(document.ParseBytes(result.Response.Body))
	d.logger.Info("pagination detected", zap.Int("pages", lastPage))

	for page := 1; page <= lastPage; page++ {
		if ctx.Err() != nil {
			return d.checkpoint(ctx, runID, links)
		}
		pageURL, err := PageURL(listingURL, page)
		if err != nil {
			return nil, &PageError{URL: listingURL, Page: page, Err: err}
		}
		added, err := d.collectPage(ctx, base, pageURL, page, links)
		if err != nil {
			if ctx.Err() != nil {
				return d.checkpoint(ctx, runID, links)
			}
			return nil, &PageError{URL: pageURL, Page: page, Err: err}
		}
		d.logger.Debug("listing page processed",
			zap.Int("page", page),
			zap.Int("new_links", added),
			zap.Int("total_links", links.Len()),
		)
	}

	if err := d.persist(ctx, runID, links); err != nil {
		return nil, err
	}
	d.logger.Info("link discovery finished", zap.String("run_id", runID), zap.Int("links", links.Len()))
	return links, nil
}

func (d *Discoverer) collectPage(ctx context.Context, base *url.URL, pageURL string, page int, links *LinkSet) (int, error) {
	result, err := fetchPaced(ctx, d.fetcher, d.pacer, Request{Method: http.MethodGet, URL: pageURL})
	if err != nil {
		return 0, err
	}
	if !result.Available() {
		d.logger.Info("listing page unavailable",
			zap.Int("page", page),
			zap.String("url", pageURL),
			zap.Int("status_code", result.StatusCode),
		)
		return 0, nil
	}
	anchors := document.ParseBytes(result.Response.Body).Query(d.selectors.productAnchor)
	if len(anchors) == 0 {
		d.logger.Warn("no product links on listing page", zap.Int("page", page), zap.String("url", pageURL))
		return 0, nil
	}
	added := 0
	for _, a := range anchors {
		href, ok := a.Attr("href")
		if !ok {
			continue
		}
		link, ok := ResolveLink(base, href)
		if !ok {
			continue
		}
		if links.Add(link) {
			added++
		}
	}
	return added, nil
}

// pageCount reads the last page number from the pagination control.
// Missing or unreadable pagination means a single page.
func (d *Discoverer) pageCount(doc *document.Document) int {
	node, ok := doc.First(d.selectors.pagination)
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimSpace(node.Text()))
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func (d *Discoverer) checkpoint(ctx context.Context, runID string, links *LinkSet) (*LinkSet, error) {
	d.logger.Warn("link discovery interrupted, saving progress",
		zap.String("run_id", runID),
		zap.Int("links", links.Len()),
	)
	if err := d.persist(context.WithoutCancel(ctx), runID, links); err != nil {
		return links, errors.Join(fmt.Errorf("link discovery interrupted: %w", ctx.Err()), err)
	}
	return links, fmt.Errorf("link discovery interrupted: %w", ctx.Err())
}

func (d *Discoverer) persist(ctx context.Context, runID string, links *LinkSet) error {
	if err := d.store.WriteStage(ctx, runID, StageLinks, StagePayload{Links: links.Links()}); err != nil {
		return fmt.Errorf("persist discovered links: %w", err)
	}
	metrics.ObserveLinksDiscovered(runID, links.Len())
	return nil
}
