package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// MalformedPriceError is returned when no numeric token can be read from a
// price text.
type MalformedPriceError struct {
	Text string
	Err  error
}

func (e *MalformedPriceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("malformed price %q", e.Text)
	}
	return fmt.Sprintf("malformed price %q: %v", e.Text, e.Err)
}

func (e *MalformedPriceError) Unwrap() error {
	return e.Err
}

var numericToken = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

var errNotNumeric = errors.New("not a decimal number")

// ParsePrice reads a European formatted price such as "12,50 €" or
// "3,00 €/ud". Only the token before the first whitespace is considered,
// non-ASCII runes are dropped and the decimal comma becomes a period.
//
// Thousands separators are not understood: "1.234 €" parses as 1.234 and
// "1.234,50 €" fails.
func ParsePrice(text string) (float64, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0, &MalformedPriceError{Text: text}
	}

	token := stripNonASCII(fields[0])
	token = strings.ReplaceAll(token, ",", ".")
	if token == "" {
		return 0, &MalformedPriceError{Text: text}
	}
	// ParseFloat also accepts NaN, Inf and hex floats.
	if !numericToken.MatchString(token) {
		return 0, &MalformedPriceError{Text: text, Err: errNotNumeric}
	}

	value, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, &MalformedPriceError{Text: text, Err: err}
	}
	return value, nil
}

func stripNonASCII(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < utf8.RuneSelf {
			b.WriteRune(r)
		}
	}
	return b.String()
}
