package eodhd

import "strings"

// exchangeSuffix maps exchange prefixes to EODHD symbol suffixes.
var exchangeSuffix = map[string]string{
	"NYSE":   "US",
	"NASDAQ": "US",
	"AMEX":   "US",
	"ASX":    "AU",
	"LSE":    "LSE",
	"TSX":    "TO",
	"XETRA":  "XETRA",
	"INDX":   "INDX",
	"FX":     "FOREX",
	"FOREX":  "FOREX",
	"CC":     "CC",
}

// indexAliases maps common benchmark names to EODHD index symbols.
var indexAliases = map[string]string{
	"SPX":    "GSPC.INDX",
	"NDX":    "NDX.INDX",
	"DJI":    "DJI.INDX",
	"VIX":    "VIX.INDX",
	"RUT":    "RUT.INDX",
	"XJO":    "AXJO.INDX",
	"NIKKEI": "N225.INDX",
}

// Symbol resolves a chart series code to an EODHD symbol.
// Supported forms:
//   - "NYSE:IBM" -> "IBM.US" (exchange prefix)
//   - "AAPL.US"  -> "AAPL.US" (already qualified)
//   - "SPX"      -> "GSPC.INDX" (index alias)
//   - "msft"     -> "MSFT.<defaultExchange>"
func Symbol(code, defaultExchange string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return ""
	}

	if idx := strings.Index(code, ":"); idx > 0 {
		exchange, ticker := code[:idx], code[idx+1:]
		if suffix, ok := exchangeSuffix[exchange]; ok {
			return ticker + "." + suffix
		}
		return ticker + "." + exchange
	}

	if alias, ok := indexAliases[code]; ok {
		return alias
	}

	// CODE.EXCHANGE, using the last dot since codes may contain dots (BRK.B.US)
	if idx := strings.LastIndex(code, "."); idx > 0 && idx < len(code)-1 {
		return code
	}

	exchange := strings.ToUpper(defaultExchange)
	if exchange == "" {
		exchange = "US"
	}
	return code + "." + exchange
}
