package format

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var narrowSymbols = map[string]string{
	"NGN": "₦",
	"USD": "$",
	"GBP": "£",
	"EUR": "€",
}

// Money renders amount with a currency symbol and locale digit grouping, e.g. "₦12,500.00".
// Unknown currency codes fall back to the upper-cased code as prefix.
func Money(amount decimal.Decimal, code, lang string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if unit, err := currency.ParseISO(code); err == nil {
		code = unit.String()
	}
	printer := message.NewPrinter(parseTag(lang))

	neg := amount.IsNegative()
	value, _ := amount.Abs().Round(2).Float64()
	body := printer.Sprintf("%.2f", value)

	prefix := code + " "
	if symbol, ok := narrowSymbols[code]; ok {
		prefix = symbol
	}
	if neg {
		return "-" + prefix + body
	}
	return prefix + body
}

// Percent renders a fractional rate as a percentage without trailing zeros, e.g. 0.075 -> "7.5%".
func Percent(rate decimal.Decimal) string {
	return rate.Mul(decimal.NewFromInt(100)).String() + "%"
}

func parseTag(lang string) language.Tag {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return language.English
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return language.English
	}
	return tag
}
