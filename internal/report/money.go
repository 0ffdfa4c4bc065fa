package report

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// largeDigits is the integer digit count from which amounts take the
// large-amount formatting branch.
const largeDigits = 10

// unitSuffixes are trailing scale markers some locale formats append to
// large amounts.
var unitSuffixes = []string{"Cr", "L", "Lakh", "K", "M", "Mn", "B", "Bn", "T"}

// Money formats amounts for one locale and currency.
type Money struct {
	printer    *message.Printer
	symbol     string
	groupSep   string
	decimalSep string
}

// NewMoney creates a formatter for a BCP 47 locale and an ISO 4217 code.
func NewMoney(locale, code string) (*Money, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("NewMoney: locale %q: %w", locale, err)
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("NewMoney: currency %q: %w", code, err)
	}
	p := message.NewPrinter(tag)

	m := &Money{printer: p, symbol: p.Sprint(currency.Symbol(unit))}
	m.groupSep = separators(p.Sprint(number.Decimal(1000)))
	m.decimalSep = separators(p.Sprint(number.Decimal(1.5, number.Scale(1))))
	return m, nil
}

// Format renders d with the currency symbol, locale grouping and two
// decimals. Amounts of ten or more integer digits after rounding go through
// compactLarge.
func (m *Money) Format(d decimal.Decimal) string {
	rounded := d.Round(2)
	s := m.symbol + " " + m.fixed(rounded)
	if integerDigits(rounded) >= largeDigits {
		s = compactLarge(s, m.groupSep)
	}
	return s
}

// fixed groups the integer part of d through the locale printer and appends
// its two fraction digits as they are.
func (m *Money) fixed(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
	}
	abs := d.Abs()
	digits := abs.StringFixed(2)
	frac := digits[len(digits)-2:]
	return sign + m.printer.Sprint(number.Decimal(abs.Truncate(0).IntPart())) + m.decimalSep + frac
}

// compactLarge strips a trailing unit-scale suffix and removes exactly one
// grouping separator, the leftmost, from a formatted large amount.
func compactLarge(s, groupSep string) string {
	trimmed := strings.TrimRightFunc(s, unicode.IsSpace)
	for _, suffix := range unitSuffixes {
		if strings.HasSuffix(trimmed, suffix) {
			rest := strings.TrimSuffix(trimmed, suffix)
			if r := []rune(rest); len(r) > 0 && !unicode.IsLetter(r[len(r)-1]) {
				trimmed = strings.TrimRightFunc(rest, unicode.IsSpace)
				break
			}
		}
	}
	if groupSep == "" {
		return trimmed
	}
	return strings.Replace(trimmed, groupSep, "", 1)
}

// integerDigits counts the digits left of the decimal point of |d|.
func integerDigits(d decimal.Decimal) int {
	return len(d.Abs().Truncate(0).String())
}

// separators extracts the non-digit runes of a formatted sample number.
func separators(formatted string) string {
	var sep strings.Builder
	for _, r := range formatted {
		if !unicode.IsDigit(r) {
			sep.WriteRune(r)
		}
	}
	return sep.String()
}
