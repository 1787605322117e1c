package parser

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/aluiziolira/aragog/models"
)

// ValidateOffer ensures the extractor produced a publishable offer.
func ValidateOffer(o models.Offer) error {
	if strings.TrimSpace(o.Name) == "" {
		return fmt.Errorf("offer missing name")
	}
	if strings.TrimSpace(o.URL) == "" {
		return fmt.Errorf("offer missing url for %s", o.Name)
	}
	if strings.TrimSpace(o.ShopName) == "" {
		return fmt.Errorf("offer missing shop for %s", o.Name)
	}
	if o.OfferPrice < 0 || o.NormalPrice < 0 {
		return fmt.Errorf("offer %s has a negative price", o.Name)
	}
	return nil
}

// NormalizeAvailability keeps letters, digits and spaces and trims the
// result. Runs of whitespace collapse to one space.
func NormalizeAvailability(text string) string {
	var b strings.Builder
	for _, r := range text {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
