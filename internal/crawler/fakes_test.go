package crawler_test

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/storage"
	"github.com/JakeFAU/catalog-harvester/internal/storage/memory"
)

type fakeResponse struct {
	result crawler.Result
	err    error
}

// fakeFetcher serves canned results keyed by URL. Unknown URLs are 404s.
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	calls     []string
	spans     []fetchSpan
	latency   time.Duration
	afterCall func(url string)
}

// fetchSpan records when one Fetch call started and returned.
type fetchSpan struct {
	url   string
	start time.Time
	end   time.Time
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{responses: map[string]fakeResponse{}}
}

func (f *fakeFetcher) page(url, body string) {
	f.responses[url] = fakeResponse{result: crawler.Result{
		Outcome:    crawler.OutcomeOK,
		StatusCode: http.StatusOK,
		Response:   &crawler.Response{URL: url, StatusCode: http.StatusOK, Body: []byte(body)},
	}}
}

func (f *fakeFetcher) unavailable(url string, code int) {
	f.responses[url] = fakeResponse{result: crawler.Result{Outcome: crawler.OutcomeUnavailable, StatusCode: code}}
}

func (f *fakeFetcher) fail(url string, err error) {
	f.responses[url] = fakeResponse{err: err}
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.Request) (crawler.Result, error) {
	start := time.Now()
	f.mu.Lock()
	f.calls = append(f.calls, req.URL)
	resp, ok := f.responses[req.URL]
	hook := f.afterCall
	latency := f.latency
	f.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}
	f.mu.Lock()
	f.spans = append(f.spans, fetchSpan{url: req.URL, start: start, end: time.Now()})
	f.mu.Unlock()

	if hook != nil {
		hook(req.URL)
	}
	if !ok {
		return crawler.Result{Outcome: crawler.OutcomeUnavailable, StatusCode: http.StatusNotFound}, nil
	}
	return resp.result, resp.err
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == url {
			n++
		}
	}
	return n
}

// pauses returns the time between the end of each fetch and the start of
// the next one.
func (f *fakeFetcher) pauses() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []time.Duration
	for i := 1; i < len(f.spans); i++ {
		out = append(out, f.spans[i].start.Sub(f.spans[i-1].end))
	}
	return out
}

type noopPacer struct{}

func (noopPacer) Wait(ctx context.Context) error {
	return ctx.Err()
}

func (noopPacer) Done() {}

func newStore(t *testing.T) (*storage.Staged, *memory.BlobStore) {
	t.Helper()
	backend := memory.NewBlobStore()
	store, err := storage.NewStaged(backend, "", nil)
	require.NoError(t, err)
	return store, backend
}

// testSelectors target the simplified markup used throughout these tests.
func testSelectors() crawler.Selectors {
	return crawler.Selectors{
		Pagination:       "ul.pages li:nth-last-child(2) a",
		ProductAnchor:    "#products a.card",
		ID:               "p.article",
		Name:             "h1 span",
		RegularPrice:     ".old .rubles",
		PromotionalPrice: ".actual .rubles",
		Brand:            ".brand a",
	}
}

func ptr(s string) *string { return &s }
