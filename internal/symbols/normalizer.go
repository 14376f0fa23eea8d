// Package symbols maps ticker suffixes between the exchange-code
// convention used by discovery sources and the one the primary quote
// provider expects.
package symbols

import (
	"strings"

	"github.com/rs/zerolog/log"
)

// suffixMap translates discovery-source exchange suffixes to the
// provider-native ones. An empty value strips the suffix entirely
// (US and OTC listings carry no suffix on the provider side).
var suffixMap = map[string]string{
	"US":  "",
	"OTC": "",
	"LON": "L",
	"TRT": "TO",
	"TRV": "V",
	"FRK": "F",
	"XET": "DE",
	"AMS": "AS",
	"BRU": "BR",
	"PAR": "PA",
	"MIL": "MI",
	"MAD": "MC",
	"LIS": "LS",
	"STO": "ST",
	"HEL": "HE",
	"CPH": "CO",
	"OSL": "OL",
	"VIE": "VI",
	"SWX": "SW",
	"WAR": "WA",
	"ATH": "AT",
	"IST": "IS",
	"TAE": "TA",
	"ASX": "AX",
	"NZE": "NZ",
	"TYO": "T",
	"HKG": "HK",
	"SHH": "SS",
	"SHZ": "SZ",
	"BSE": "BO",
	"NSE": "NS",
	"KSC": "KS",
	"KOE": "KQ",
	"SGX": "SI",
	"SAO": "SA",
	"MEX": "MX",
	"JSE": "JO",
	"TAI": "TW",
}

// nativeSuffixes are already in the provider's convention and pass
// through untouched.
var nativeSuffixes = map[string]bool{}

func init() {
	for _, v := range suffixMap {
		if v != "" {
			nativeSuffixes[v] = true
		}
	}
}

// Normalize rewrites a dotted exchange suffix into the quote provider's
// convention. Symbols without a suffix, or with a suffix already in the
// provider convention, come back unchanged. Unknown suffixes also pass
// through unchanged; enrichment for those tickers will likely fail
// downstream, so a warning is emitted here where the symbol is still
// diagnosable.
func Normalize(symbol string) string {
	i := strings.LastIndex(symbol, ".")
	if i < 0 || i == len(symbol)-1 {
		return symbol
	}
	base, suffix := symbol[:i], symbol[i+1:]
	if base == "" {
		return symbol
	}
	if nativeSuffixes[suffix] {
		return symbol
	}
	mapped, ok := suffixMap[strings.ToUpper(suffix)]
	if !ok {
		log.Warn().Str("symbol", symbol).Str("suffix", suffix).
			Msg("unknown exchange suffix, passing through")
		return symbol
	}
	if mapped == "" {
		return base
	}
	return base + "." + mapped
}
