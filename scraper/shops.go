package scraper

import (
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Dracotienda lists board games without stock flags.
var Dracotienda = Shop{
	Name:     "Dracotienda",
	StartURL: "https://dracotienda.com/1715-juegos-de-tablero",
	Selectors: ShopSelectorSet{
		Entry:        "div.laberProduct-container",
		Name:         "h2.productName",
		Link:         "a",
		Price:        "span.price",
		RegularPrice: "span.regular-price",
		NextPage:     "a.next",
		PageSize:     24,
	},
	Hooks: ShopHooks{
		MissingName:         MissingNameSilent,
		Truncated:           TruncatedKeep,
		DefaultAvailability: "Available",
	},
}

// Jugamosotra truncates long names in listings and flags sold out items
// with a dedicated list element.
var Jugamosotra = Shop{
	Name:     "JugamosOtra",
	StartURL: "https://jugamosotra.com/es/24-juegos?order=product.sales.desc",
	Selectors: ShopSelectorSet{
		Entry:        "div.thumbnail-container",
		Name:         ".product-title a",
		Link:         ".product-title a",
		Price:        ".product-price-and-shipping .price",
		RegularPrice: ".product-price-and-shipping .regular-price",
		NextPage:     "a.next",
		DetailName:   "h1.h1[itemprop='name']",
		PageSize:     80,
	},
	Hooks: ShopHooks{
		MissingName:         MissingNameLog,
		Truncated:           TruncatedResolve,
		Availability:        soldOutFlag,
		DefaultAvailability: "Disponible",
	},
}

// DungeonMarvels exposes a stock tag per entry.
var DungeonMarvels = Shop{
	Name:     "DungeonMarvels",
	StartURL: "https://dungeonmarvels.com/10-juegos-de-tablero",
	Selectors: ShopSelectorSet{
		Entry:        "div.product-container",
		Name:         "h2.product-title a",
		Link:         "div.thumbnail-container a.thumbnail",
		Price:        ".price",
		RegularPrice: ".regular-price",
		Availability: "div.stock-product span.stock-tag",
		NextPage:     "a.next",
		PageSize:     24,
	},
	Hooks: ShopHooks{
		MissingName:         MissingNameLog,
		Truncated:           TruncatedDrop,
		DefaultAvailability: "Available",
	},
}

var catalog = map[string]Shop{
	"dracotienda":    Dracotienda,
	"jugamosotra":    Jugamosotra,
	"dungeonmarvels": DungeonMarvels,
}

// ShopNames returns the selectable shop keys in a stable order.
func ShopNames() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ShopByName looks a shop up by its case-insensitive key.
func ShopByName(name string) (Shop, error) {
	shop, ok := catalog[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Shop{}, fmt.Errorf("unknown shop %q (known: %s)", name, strings.Join(ShopNames(), ", "))
	}
	return shop, nil
}

// SelectShops resolves a --shop value; "all" or an empty value selects every shop.
func SelectShops(name string) ([]Shop, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || key == "all" {
		shops := make([]Shop, 0, len(catalog))
		for _, n := range ShopNames() {
			shops = append(shops, catalog[n])
		}
		return shops, nil
	}
	shop, err := ShopByName(key)
	if err != nil {
		return nil, err
	}
	return []Shop{shop}, nil
}

func soldOutFlag(entry *goquery.Selection) string {
	soldOut := false
	entry.Find("li").EachWithBreak(func(_ int, li *goquery.Selection) bool {
		if class, ok := li.Attr("class"); ok && class == "product-flag agotado" {
			soldOut = true
			return false
		}
		return true
	})
	if soldOut {
		return "Agotado"
	}
	return "Disponible"
}
