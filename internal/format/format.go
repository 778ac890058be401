// Package format renders prices with a constant number of significant digits.
package format

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// SignificantDigits is the number of digits shown for any price.
const SignificantDigits = 6

var printer = message.NewPrinter(language.English)

// Precision returns the number of decimal places the chart axis should use
// for price. More integer digits means fewer decimals.
func Precision(price float64) int {
	switch {
	case price >= 10000:
		return 1
	case price >= 100:
		return 2
	case price >= 10:
		return 3
	case price >= 1:
		return 4
	default:
		return 5
	}
}

// Decimals returns how many decimal places are needed to show price with
// SignificantDigits significant digits.
func Decimals(price float64) int {
	if price == 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0
	}
	rounded := roundSignificant(price)
	abs := math.Abs(rounded)

	intPart := math.Floor(abs)
	if intPart == 0 {
		// 1.23456e-02 -> 5 mantissa decimals shifted by 2.
		s := strconv.FormatFloat(abs, 'e', SignificantDigits-1, 64)
		exp, err := strconv.Atoi(s[strings.IndexByte(s, 'e')+1:])
		if err != nil {
			return SignificantDigits
		}
		return SignificantDigits - 1 - exp
	}

	intDigits := int(math.Floor(math.Log10(intPart))) + 1
	if intDigits >= SignificantDigits {
		return 0
	}
	return SignificantDigits - intDigits
}

// Price formats price with SignificantDigits significant digits and comma
// grouping, e.g. 95,400.0 or 3,250.00 or 130.520.
func Price(price float64) string {
	if price == 0 {
		return "0"
	}
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return strconv.FormatFloat(price, 'f', -1, 64)
	}
	return printer.Sprintf("%."+strconv.Itoa(Decimals(price))+"f", roundSignificant(price))
}

func roundSignificant(v float64) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'g', SignificantDigits, 64), 64)
	if err != nil {
		return v
	}
	return r
}
