// Package symbol maps trading pairs between the internal "BASE/QUOTE" key
// and the concatenated form exchanges use on the wire.
package symbol

import "strings"

// Pair is a base/quote pair. The zero value is an unparseable symbol.
type Pair struct {
	Base  string
	Quote string
}

func (p Pair) Valid() bool { return p.Base != "" && p.Quote != "" }

// String renders the internal key, or "" for an invalid pair.
func (p Pair) String() string {
	if !p.Valid() {
		return ""
	}
	return p.Base + "/" + p.Quote
}

// Wire renders the exchange form, e.g. BTCUSDT.
func (p Pair) Wire() string {
	if !p.Valid() {
		return ""
	}
	return p.Base + p.Quote
}

var quotes = []string{"FDUSD", "USDT", "USDC", "BUSD", "TUSD", "BTC", "ETH", "BNB"}

// Parse accepts BTC/USDT, btc-usdt, BTC_USDT, BTCUSDT and the settled
// futures form BTC/USDT:USDT.
func Parse(s string) Pair {
	s = strings.ToUpper(strings.TrimSpace(s))
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return Pair{}
	}
	if base, quote, ok := strings.Cut(s, "/"); ok {
		return pair(base, quote)
	}
	for _, sep := range []string{"-", "_"} {
		if base, quote, ok := strings.Cut(s, sep); ok {
			return pair(base, quote)
		}
	}
	for _, q := range quotes {
		if base, ok := strings.CutSuffix(s, q); ok && base != "" {
			return Pair{Base: base, Quote: q}
		}
	}
	return Pair{}
}

func pair(base, quote string) Pair {
	p := Pair{Base: strings.TrimSpace(base), Quote: strings.TrimSpace(quote)}
	if !p.Valid() {
		return Pair{}
	}
	return p
}

// Normalize returns the internal key, or the upper-cased input when it
// cannot be split into base and quote.
func Normalize(s string) string {
	if p := Parse(s); p.Valid() {
		return p.String()
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

// Wire returns the exchange form of s. Unparseable input is upper-cased
// with separators stripped.
func Wire(s string) string {
	if p := Parse(s); p.Valid() {
		return p.Wire()
	}
	return strings.NewReplacer("/", "", "-", "", "_", "").Replace(strings.ToUpper(strings.TrimSpace(s)))
}

func IsValid(s string) bool { return Parse(s).Valid() }
