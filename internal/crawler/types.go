package crawler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// CreateDateLayout is the wire format of RawProduct.CreateDate.
const CreateDateLayout = "2006-01-02T15:04:05Z"

// Stage names one of the run-scoped artifacts persisted by the pipeline.
type Stage string

// Artifact names persisted through the StagedStore.
const (
	StageLinks       Stage = "stage"
	StageFinal       Stage = "final"
	StageUnprocessed Stage = "unprocessed"
)

// Link is an absolute product URL.
type Link = string

// LinkSet is a de-duplicated collection of links. Insertion order is kept so
// persisted artifacts are stable between runs.
type LinkSet struct {
	order []Link
	seen  map[Link]struct{}
}

// NewLinkSet builds a set from the given links, dropping duplicates.
func NewLinkSet(links ...Link) *LinkSet {
	s := &LinkSet{seen: make(map[Link]struct{}, len(links))}
	for _, l := range links {
		s.Add(l)
	}
	return s
}

// Add inserts link and reports whether it was new.
func (s *LinkSet) Add(link Link) bool {
	if s.seen == nil {
		s.seen = make(map[Link]struct{})
	}
	if _, ok := s.seen[link]; ok {
		return false
	}
	s.seen[link] = struct{}{}
	s.order = append(s.order, link)
	return true
}

// Contains reports whether link is a member.
func (s *LinkSet) Contains(link Link) bool {
	if s == nil {
		return false
	}
	_, ok := s.seen[link]
	return ok
}

// Len returns the number of members.
func (s *LinkSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Links returns a copy of the members.
func (s *LinkSet) Links() []Link {
	if s == nil {
		return []Link{}
	}
	out := make([]Link, len(s.order))
	copy(out, s.order)
	return out
}

// StagePayload is the document persisted under StageLinks.
type StagePayload struct {
	Links []Link `json:"links"`
}

// RawProduct is one product as extracted from its detail page. Optional
// fields are nil when the page did not contain them.
type RawProduct struct {
	CreateDate       time.Time `json:"create_date"`
	Link             string    `json:"link"`
	ID               *string   `json:"id"`
	Name             *string   `json:"name"`
	RegularPrice     *string   `json:"regular_price"`
	PromotionalPrice *string   `json:"promotional_price"`
	Brand            *string   `json:"brand"`
}

type rawProductJSON struct {
	CreateDate       string  `json:"create_date"`
	Link             string  `json:"link"`
	ID               *string `json:"id"`
	Name             *string `json:"name"`
	RegularPrice     *string `json:"regular_price"`
	PromotionalPrice *string `json:"promotional_price"`
	Brand            *string `json:"brand"`
}

// MarshalJSON encodes CreateDate with CreateDateLayout, or as an empty string
// when it is unset.
func (p RawProduct) MarshalJSON() ([]byte, error) {
	created := ""
	if !p.CreateDate.IsZero() {
		created = p.CreateDate.UTC().Format(CreateDateLayout)
	}
	return json.Marshal(rawProductJSON{
		CreateDate:       created,
		Link:             p.Link,
		ID:               p.ID,
		Name:             p.Name,
		RegularPrice:     p.RegularPrice,
		PromotionalPrice: p.PromotionalPrice,
		Brand:            p.Brand,
	})
}

// UnmarshalJSON accepts CreateDateLayout as well as RFC 3339 timestamps.
func (p *RawProduct) UnmarshalJSON(data []byte) error {
	var raw rawProductJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var created time.Time
	if raw.CreateDate != "" {
		t, err := time.Parse(CreateDateLayout, raw.CreateDate)
		if err != nil {
			t, err = time.Parse(time.RFC3339Nano, raw.CreateDate)
			if err != nil {
				return fmt.Errorf("parse create_date %q: %w", raw.CreateDate, err)
			}
		}
		created = t.UTC()
	}
	*p = RawProduct{
		CreateDate:       created,
		Link:             raw.Link,
		ID:               raw.ID,
		Name:             raw.Name,
		RegularPrice:     raw.RegularPrice,
		PromotionalPrice: raw.PromotionalPrice,
		Brand:            raw.Brand,
	}
	return nil
}

// FailedLink records a link that could not be turned into a RawProduct.
type FailedLink struct {
	Link   string `json:"link"`
	Reason string `json:"reason"`
}

// ExtractSummary reports the outcome of one extraction run.
type ExtractSummary struct {
	Final       int `json:"final"`
	Unprocessed int `json:"unprocessed"`
}

// Request describes one outbound HTTP call.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Params  url.Values
	Body    url.Values
}

// Response is a successful (2xx) HTTP response.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Outcome classifies a completed fetch.
type Outcome int

// Fetch outcomes. OutcomeUnavailable is a soft skip, not an error.
const (
	OutcomeOK Outcome = iota
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Result is returned by a Fetcher for every call that did not fail hard.
type Result struct {
	Outcome    Outcome
	Response   *Response
	StatusCode int
	Reason     string
}

// Available reports whether the result carries content.
func (r Result) Available() bool {
	return r.Outcome == OutcomeOK && r.Response != nil
}
