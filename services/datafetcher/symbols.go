package datafetcher

import (
	"fmt"
	"regexp"
	"strings"
)

var symbolPattern = regexp.MustCompile(`^[a-z]{2}[0-9a-z_.]{1,12}$`)

// NormalizeSymbol lower-cases a symbol and adds the exchange prefix to bare
// six-digit A-share codes (6/9 Shanghai, 0/2/3 Shenzhen, 4/8 Beijing).
func NormalizeSymbol(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if len(s) == 6 && isDigits(s) {
		switch s[0] {
		case '6', '9':
			s = "sh" + s
		case '0', '2', '3':
			s = "sz" + s
		case '4', '8':
			s = "bj" + s
		}
	}
	if !symbolPattern.MatchString(s) {
		return "", fmt.Errorf("invalid symbol %q", raw)
	}
	return s, nil
}

// IsIndexSymbol reports whether the symbol is an exchange index
// (sh000xxx, sz399xxx, bj899xxx).
func IsIndexSymbol(symbol string) bool {
	if len(symbol) != 8 {
		return false
	}
	code := symbol[2:]
	switch symbol[:2] {
	case "sh":
		return strings.HasPrefix(code, "000")
	case "sz":
		return strings.HasPrefix(code, "399")
	case "bj":
		return strings.HasPrefix(code, "899")
	}
	return false
}

// eastMoneySecID maps sh600519 to 1.600519 and sz000858 to 0.000858
func eastMoneySecID(symbol string) (string, error) {
	if len(symbol) != 8 || !isDigits(symbol[2:]) {
		return "", fmt.Errorf("eastmoney does not support symbol %q", symbol)
	}
	switch symbol[:2] {
	case "sh":
		return "1." + symbol[2:], nil
	case "sz", "bj":
		return "0." + symbol[2:], nil
	}
	return "", fmt.Errorf("eastmoney does not support symbol %q", symbol)
}

// symbolFromEastMoney is the inverse of eastMoneySecID for list responses
func symbolFromEastMoney(market int, code string) string {
	if market == 1 {
		return "sh" + code
	}
	if strings.HasPrefix(code, "8") || strings.HasPrefix(code, "4") || strings.HasPrefix(code, "92") {
		return "bj" + code
	}
	return "sz" + code
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
