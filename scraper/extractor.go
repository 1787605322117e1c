package scraper

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/aragog/models"
	"github.com/aluiziolira/aragog/parser"
)

// ExtractionKind tells extracted entries apart from dropped ones.
type ExtractionKind int

const (
	Extracted ExtractionKind = iota
	Filtered
	Missing
)

func (k ExtractionKind) String() string {
	switch k {
	case Extracted:
		return "extracted"
	case Filtered:
		return "filtered"
	case Missing:
		return "missing"
	default:
		return "unknown"
	}
}

// Extraction is the outcome of one entry. Offer is set only for Extracted,
// Reason only for Filtered and Field only for Missing.
type Extraction struct {
	Kind   ExtractionKind
	Offer  models.Offer
	Reason string
	Field  string
}

// Detail is the value recorded as error_detail on the entry span.
func (e Extraction) Detail() string {
	switch e.Kind {
	case Extracted:
		return "OK"
	case Filtered:
		return e.Reason
	default:
		return "missing_" + e.Field
	}
}

const reasonDotsInName = "dots_in_name"

// Extractor turns catalog fragments into offers for one shop.
type Extractor struct {
	shop       Shop
	normalizer *parser.NameNormalizer
	detail     *DetailResolver
	logger     *slog.Logger
}

// NewExtractor builds an extractor. detail may be nil unless the shop
// resolves truncated names.
func NewExtractor(shop Shop, normalizer *parser.NameNormalizer, detail *DetailResolver, logger *slog.Logger) *Extractor {
	if normalizer == nil {
		normalizer = parser.NewNameNormalizer()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		shop:       shop,
		normalizer: normalizer,
		detail:     detail,
		logger:     logger,
	}
}

// Raw pulls the unparsed fields of one entry.
func (x *Extractor) Raw(entry *goquery.Selection) models.RawEntry {
	sel := x.shop.Selectors
	raw := models.RawEntry{
		NameText: strings.TrimSpace(entry.Find(sel.Name).First().Text()),
	}
	if link := entry.Find(sel.Link).First(); link.Length() > 0 {
		raw.LinkHref, _ = link.Attr(sel.linkAttr())
		raw.LinkHref = strings.TrimSpace(raw.LinkHref)
	}
	if sel.Price != "" {
		raw.PriceText = strings.TrimSpace(entry.Find(sel.Price).First().Text())
	}
	if sel.RegularPrice != "" {
		raw.RegularPriceText = strings.TrimSpace(entry.Find(sel.RegularPrice).First().Text())
	}
	switch {
	case x.shop.Hooks.Availability != nil:
		raw.AvailabilityText = x.shop.Hooks.Availability(entry)
	case sel.Availability != "":
		raw.AvailabilityText = strings.TrimSpace(entry.Find(sel.Availability).First().Text())
	}
	return raw
}

// Extract builds an Offer from one entry. Fields are checked in order:
// name, link, prices, availability, truncation, then name normalization.
func (x *Extractor) Extract(ctx context.Context, entry *goquery.Selection, pageURL *url.URL) Extraction {
	raw := x.Raw(entry)

	if raw.NameText == "" {
		if x.shop.Hooks.MissingName == MissingNameLog {
			x.logger.Warn("product name not found", slog.String("page", pageURL.String()))
		}
		return Extraction{Kind: Missing, Field: "name"}
	}

	if raw.LinkHref == "" {
		x.logger.Warn("offer url not found", slog.String("name", raw.NameText))
		return Extraction{Kind: Missing, Field: "link"}
	}
	link, err := resolveLink(pageURL, raw.LinkHref)
	if err != nil {
		x.logger.Warn("invalid offer url",
			slog.String("name", raw.NameText),
			slog.String("href", raw.LinkHref),
			slog.Any("error", err),
		)
		return Extraction{Kind: Missing, Field: "link"}
	}

	if raw.PriceText == "" {
		x.logger.Warn("offer price not found", slog.String("name", raw.NameText))
		return Extraction{Kind: Missing, Field: "offer_price"}
	}
	offerPrice, err := parser.ParsePrice(raw.PriceText)
	if err != nil {
		x.logger.Warn("offer price unparseable",
			slog.String("name", raw.NameText),
			slog.Any("error", err),
		)
		return Extraction{Kind: Missing, Field: "offer_price"}
	}

	normalPrice := offerPrice
	if raw.RegularPriceText != "" {
		if parsed, err := parser.ParsePrice(raw.RegularPriceText); err == nil {
			normalPrice = parsed
		} else {
			x.logger.Warn("regular price unparseable, using offer price",
				slog.String("name", raw.NameText),
				slog.Any("error", err),
			)
		}
	}

	availability := parser.NormalizeAvailability(raw.AvailabilityText)
	if availability == "" {
		availability = x.shop.Hooks.DefaultAvailability
	}

	name := raw.NameText
	if isTruncated(name) {
		switch x.shop.Hooks.Truncated {
		case TruncatedDrop:
			x.logger.Error("truncated product name", slog.String("name", name), slog.String("error_detail", reasonDotsInName))
			return Extraction{Kind: Filtered, Reason: reasonDotsInName}
		case TruncatedResolve:
			if x.detail == nil {
				return Extraction{Kind: Missing, Field: "detail_name"}
			}
			resolved, err := x.detail.Resolve(ctx, link)
			if err != nil {
				x.logger.Error("unable to resolve truncated name",
					slog.String("name", name),
					slog.String("url", link),
					slog.Any("error", err),
				)
				return Extraction{Kind: Missing, Field: "detail_name"}
			}
			name = resolved
		}
	}

	if reason, excluded := x.normalizer.Excluded(name); excluded {
		x.logger.Info("offer filtered", slog.String("name", name), slog.String("reason", reason))
		return Extraction{Kind: Filtered, Reason: reason}
	}
	normalized, ok := x.normalizer.Normalize(name)
	if !ok || normalized == "" {
		x.logger.Info("offer filtered", slog.String("name", name), slog.String("reason", "empty_after_cleanup"))
		return Extraction{Kind: Filtered, Reason: "empty_after_cleanup"}
	}

	offer := models.Offer{
		Name:         normalized,
		URL:          link,
		NormalPrice:  normalPrice,
		OfferPrice:   offerPrice,
		Availability: availability,
		ShopName:     x.shop.Name,
	}
	if err := parser.ValidateOffer(offer); err != nil {
		x.logger.Warn("invalid offer", slog.Any("offer", offer), slog.Any("error", err))
		return Extraction{Kind: Missing, Field: "offer"}
	}
	return Extraction{Kind: Extracted, Offer: offer}
}

func resolveLink(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	if base == nil {
		return ref.String(), nil
	}
	return base.ResolveReference(ref).String(), nil
}
