package crawler

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/catalog-harvester/internal/document"
)

// TextMode selects how a matched field element is turned into text.
type TextMode string

// Field text modes. TextOwn reads only the element's leading text, before its
// first child element. TextFull reads all descendant text.
const (
	TextOwn  TextMode = "own"
	TextFull TextMode = "full"
)

// ParseTextMode validates raw. Empty means TextOwn.
func ParseTextMode(raw string) (TextMode, error) {
	switch mode := TextMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case "":
		return TextOwn, nil
	case TextOwn, TextFull:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown field text mode %q: want own or full", raw)
	}
}

// Selectors holds the structural queries tied to one site's markup. Each
// entry is parsed with document.ParseSelector.
type Selectors struct {
	Pagination       string `mapstructure:"pagination"`
	ProductAnchor    string `mapstructure:"product_anchor"`
	ID               string `mapstructure:"id"`
	Name             string `mapstructure:"name"`
	RegularPrice     string `mapstructure:"regular_price"`
	PromotionalPrice string `mapstructure:"promotional_price"`
	Brand            string `mapstructure:"brand"`
}

// DefaultSelectors returns the queries for the online.metro-cc.ru catalogue.
func DefaultSelectors() Selectors {
	const rightColumn = `//div[@class="product-page-content__column product-page-content__column--right"]` +
		`//div[@class="product-unit-prices__trigger"]`
	return Selectors{
		Pagination: `//ul[@class="catalog-paginate v-pagination"]/li[last()-1]/a`,
		ProductAnchor: `//div[@id="products-inner"]//a[@class="product-card-name reset-link ` +
			`catalog-2-level-product-card__name style--catalog-2-level-product-card"]`,
		ID:   `//article//p[@class="product-page-content__article"]`,
		Name: `//article//h1[@class="product-page-content__product-name catalog-heading heading__h2"]/span`,
		RegularPrice: rightColumn +
			`//div[@class="product-unit-prices__old-wrapper"]//span[@class="product-price__sum-rubles"]`,
		PromotionalPrice: rightColumn +
			`//div[@class="product-unit-prices__actual-wrapper"]//span[@class="product-price__sum-rubles"]`,
		Brand: `//ul[@class="product-attributes__list style--product-page-short-list"]` +
			`//span[contains(text(), "Бренд")]/parent::node()/parent::node()/a`,
	}
}

// Validate checks that every selector is set.
func (s Selectors) Validate() error {
	fields := map[string]string{
		"pagination":        s.Pagination,
		"product_anchor":    s.ProductAnchor,
		"id":                s.ID,
		"name":              s.Name,
		"regular_price":     s.RegularPrice,
		"promotional_price": s.PromotionalPrice,
		"brand":             s.Brand,
	}
	for name, v := range fields {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("crawler.selectors.%s must be set", name)
		}
	}
	return nil
}

type compiledSelectors struct {
	pagination       document.Selector
	productAnchor    document.Selector
	id               document.Selector
	name             document.Selector
	regularPrice     document.Selector
	promotionalPrice document.Selector
	brand            document.Selector
}

func (s Selectors) compile() compiledSelectors {
	return compiledSelectors{
		pagination:       document.ParseSelector(s.Pagination),
		productAnchor:    document.ParseSelector(s.ProductAnchor),
		id:               document.ParseSelector(s.ID),
		name:             document.ParseSelector(s.Name),
		regularPrice:     document.ParseSelector(s.RegularPrice),
		promotionalPrice: document.ParseSelector(s.PromotionalPrice),
		brand:            document.ParseSelector(s.Brand),
	}
}

// PageURL returns listingURL with the page query parameter set to page.
func PageURL(listingURL string, page int) (string, error) {
	u, err := url.Parse(listingURL)
	if err != nil {
		return "", fmt.Errorf("parse listing url: %w", err)
	}
	q := u.Query()
	q.Set("page", fmt.Sprintf("%d", page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ResolveLink composes an absolute link from an anchor href and the site's
// base authority. Empty and non-http(s) hrefs are rejected.
func ResolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	switch strings.ToLower(resolved.Scheme) {
	case "http", "https":
	default:
		return "", false
	}
	resolved.Fragment = ""
	return resolved.String(), true
}
