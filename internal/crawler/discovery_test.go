package crawler_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

const listingURL = "https://shop.test/category/coffee"

func pageURL(t *testing.T, page int) string {
	t.Helper()
	u, err := crawler.PageURL(listingURL, page)
	require.NoError(t, err)
	return u
}

func listingHTML(lastPage int, hrefs ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="products">`)
	for _, h := range hrefs {
		fmt.Fprintf(&b, `<a class="card" href="%s">item</a>`, h)
	}
	b.WriteString(`</div>`)
	if lastPage > 0 {
		b.WriteString(`<ul class="pages">`)
		for p := 1; p <= lastPage; p++ {
			fmt.Fprintf(&b, `<li><a>%d</a></li>`, p)
		}
		b.WriteString(`<li><a>next</a></li></ul>`)
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

func newDiscoverer(t *testing.T, fetcher crawler.Fetcher, store crawler.StagedStore, logger *zap.Logger) *crawler.Discoverer {
	t.Helper()
	d, err := crawler.NewDiscoverer(fetcher, store, noopPacer{}, crawler.DiscovererConfig{
		Selectors: testSelectors(),
	}, logger)
	require.NoError(t, err)
	return d
}

func readLinks(t *testing.T, store crawler.StagedStore, runID string) []string {
	t.Helper()
	var payload crawler.StagePayload
	require.NoError(t, store.ReadStage(context.Background(), runID, crawler.StageLinks, &payload))
	return payload.Links
}

func TestDiscoverDeduplicatesAcrossPages(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.page(listingURL, listingHTML(3))
	fetcher.page(pageURL(t, 1), listingHTML(3, "/p/1", "/p/2"))
	fetcher.page(pageURL(t, 2), listingHTML(3, "/p/2", "https://shop.test/p/3#reviews"))
	fetcher.page(pageURL(t, 3), listingHTML(3, "/p/1", "/p/4", "mailto:shop@test", ""))
	store, _ := newStore(t)

	links, err := newDiscoverer(t, fetcher, store, nil).Discover(context.Background(), "run1", listingURL)
	require.NoError(t, err)

	want := []string{
		"https://shop.test/p/1",
		"https://shop.test/p/2",
		"https://shop.test/p/3",
		"https://shop.test/p/4",
	}
	assert.Equal(t, want, links.Links())
	assert.Equal(t, want, readLinks(t, store, "run1"))
	for p := 1; p <= 3; p++ {
		assert.Equal(t, 1, fetcher.callCount(pageURL(t, p)), "page %d", p)
	}
}

func TestDiscoverUsesConfiguredBaseURL(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.page(listingURL, listingHTML(0))
	fetcher.page(pageURL(t, 1), listingHTML(0, "/p/1"))
	store, _ := newStore(t)

	d, err := crawler.NewDiscoverer(fetcher, store, noopPacer{}, crawler.DiscovererConfig{
		BaseURL:   "https://cdn.shop.test",
		Selectors: testSelectors(),
	}, nil)
	require.NoError(t, err)

	links, err := d.Discover(context.Background(), "run1", listingURL)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.shop.test/p/1"}, links.Links())
}

func TestDiscoverListingUnavailableWritesNothing(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.unavailable(listingURL, http.StatusBadGateway)
	store, backend := newStore(t)

	links, err := newDiscoverer(t, fetcher, store, nil).Discover(context.Background(), "run1", listingURL)
	require.NoError(t, err)
	assert.Zero(t, links.Len())
	assert.Empty(t, backend.Keys())
}

func TestDiscoverWithoutPaginationFetchesOnePage(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.page(listingURL, listingHTML(0, "/ignored"))
	fetcher.page(pageURL(t, 1), listingHTML(0, "/p/1"))
	store, _ := newStore(t)

	links, err := newDiscoverer(t, fetcher, store, nil).Discover(context.Background(), "run1", listingURL)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://shop.test/p/1"}, links.Links())
	assert.Equal(t, 0, fetcher.callCount(pageURL(t, 2)))
}

func TestDiscoverSkipsEmptyAndUnavailablePages(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.page(listingURL, listingHTML(4))
	fetcher.page(pageURL(t, 1), listingHTML(4, "/p/1"))
	fetcher.page(pageURL(t, 2), listingHTML(4))
	fetcher.unavailable(pageURL(t, 3), http.StatusNotFound)
	fetcher.page(pageURL(t, 4), listingHTML(4, "/p/4"))
	store, _ := newStore(t)

	core, logs := observer.New(zapcore.InfoLevel)
	links, err := newDiscoverer(t, fetcher, store, zap.New(core)).Discover(context.Background(), "run1", listingURL)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://shop.test/p/1", "https://shop.test/p/4"}, links.Links())
	assert.Equal(t, 1, logs.FilterMessage("no product links on listing page").Len())
	assert.Equal(t, 1, logs.FilterMessage("listing page unavailable").Len())
}

func TestDiscoverPageErrorAbortsWithoutWrite(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.page(listingURL, listingHTML(3))
	fetcher.page(pageURL(t, 1), listingHTML(3, "/p/1"))
	fetcher.fail(pageURL(t, 2), &crawler.StatusError{URL: pageURL(t, 2), StatusCode: http.StatusInternalServerError})
	store, backend := newStore(t)

	_, err := newDiscoverer(t, fetcher, store, nil).Discover(context.Background(), "run1", listingURL)
	require.Error(t, err)
	assert.ErrorIs(t, err, crawler.ErrPageProcessing)
	assert.ErrorIs(t, err, crawler.ErrFatalStatus)

	var pageErr *crawler.PageError
	require.ErrorAs(t, err, &pageErr)
	assert.Equal(t, 2, pageErr.Page)
	assert.Equal(t, pageURL(t, 2), pageErr.URL)
	assert.Empty(t, backend.Keys())
	assert.Equal(t, 0, fetcher.callCount(pageURL(t, 3)))
}

func TestDiscoverListingErrorAborts(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.fail(listingURL, fmt.Errorf("%w: connection refused", crawler.ErrTransient))
	store, backend := newStore(t)

	_, err := newDiscoverer(t, fetcher, store, nil).Discover(context.Background(), "run1", listingURL)
	assert.ErrorIs(t, err, crawler.ErrPageProcessing)
	assert.ErrorIs(t, err, crawler.ErrTransient)
	assert.Empty(t, backend.Keys())
}

func TestDiscoverCancellationPersistsProgress(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.page(listingURL, listingHTML(5))
	for p := 1; p <= 5; p++ {
		fetcher.page(pageURL(t, p), listingHTML(5, fmt.Sprintf("/p/%d", p)))
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	page3 := pageURL(t, 3)
	fetcher.afterCall = func(url string) {
		if url == page3 {
			cancel()
		}
	}
	store, _ := newStore(t)

	links, err := newDiscoverer(t, fetcher, store, nil).Discover(ctx, "run1", listingURL)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	want := []string{"https://shop.test/p/1", "https://shop.test/p/2", "https://shop.test/p/3"}
	assert.Equal(t, want, links.Links())
	assert.Equal(t, want, readLinks(t, store, "run1"))
	assert.Equal(t, 0, fetcher.callCount(pageURL(t, 4)))
}

func TestDiscoverDefaultSelectorsOnCatalogueMarkup(t *testing.T) {
	t.Parallel()

	const anchorClass = "product-card-name reset-link catalog-2-level-product-card__name " +
		"style--catalog-2-level-product-card"
	page := `<html><body>
<div id="products-inner">
  <div><a class="` + anchorClass + `" href="/products/kofe-1">Кофе 1</a></div>
  <div><a class="` + anchorClass + `" href="/products/kofe-2">Кофе 2</a></div>
  <a class="other" href="/products/ad">ad</a>
</div>
<ul class="catalog-paginate v-pagination">
  <li><a>1</a></li><li><a>2</a></li><li><a>›</a></li>
</ul>
</body></html>`

	fetcher := newFakeFetcher()
	fetcher.page(listingURL, page)
	fetcher.page(pageURL(t, 1), page)
	fetcher.page(pageURL(t, 2), page)
	store, _ := newStore(t)

	d, err := crawler.NewDiscoverer(fetcher, store, noopPacer{}, crawler.DiscovererConfig{
		Selectors: crawler.DefaultSelectors(),
	}, nil)
	require.NoError(t, err)

	links, err := d.Discover(context.Background(), "run1", listingURL)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://shop.test/products/kofe-1", "https://shop.test/products/kofe-2"}, links.Links())
	assert.Equal(t, 1, fetcher.callCount(pageURL(t, 2)))
}

func TestNewDiscovererValidates(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t)
	_, err := crawler.NewDiscoverer(nil, store, noopPacer{}, crawler.DiscovererConfig{Selectors: testSelectors()}, nil)
	assert.Error(t, err)

	_, err = crawler.NewDiscoverer(newFakeFetcher(), store, noopPacer{}, crawler.DiscovererConfig{}, nil)
	assert.Error(t, err)

	_, err = crawler.NewDiscoverer(newFakeFetcher(), store, noopPacer{}, crawler.DiscovererConfig{
		BaseURL:   "not a url",
		Selectors: testSelectors(),
	}, nil)
	assert.Error(t, err)
}
