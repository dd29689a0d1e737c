package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Watchlist lists the symbols the background refresh keeps persisted
type Watchlist struct {
	Symbols       []string `yaml:"symbols"`
	Indices       []string `yaml:"indices"`
	BreadthBasket []string `yaml:"breadth_basket"`
	KLineCount    int      `yaml:"kline_count"`
}

// DefaultWatchlist is used when no watchlist file is configured
func DefaultWatchlist() *Watchlist {
	return &Watchlist{
		Symbols: []string{
			"sh600519", "sz000858", "sh601318", "sh600036", "sz000333",
			"sh600900", "sz300750", "sh601012", "sz002594", "sh600276",
		},
		Indices:       []string{"sh000001", "sz399001", "sz399006", "sh000300", "sh000016", "sh000688"},
		BreadthBasket: []string{"sh600519", "sz000858", "sh601318", "sh600036", "sz000333", "sh600900", "sz300750", "sh601012"},
		KLineCount:    120,
	}
}

// LoadWatchlist reads a YAML watchlist. An empty path yields the defaults.
func LoadWatchlist(path string) (*Watchlist, error) {
	if path == "" {
		return DefaultWatchlist(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read watchlist: %w", err)
	}

	var wl Watchlist
	if err := yaml.Unmarshal(data, &wl); err != nil {
		return nil, fmt.Errorf("failed to parse watchlist: %w", err)
	}

	defaults := DefaultWatchlist()
	if len(wl.Symbols) == 0 {
		wl.Symbols = defaults.Symbols
	}
	if len(wl.Indices) == 0 {
		wl.Indices = defaults.Indices
	}
	if len(wl.BreadthBasket) == 0 {
		wl.BreadthBasket = defaults.BreadthBasket
	}
	if wl.KLineCount <= 0 {
		wl.KLineCount = defaults.KLineCount
	}

	wl.Symbols = normalizeSymbols(wl.Symbols)
	wl.Indices = normalizeSymbols(wl.Indices)
	wl.BreadthBasket = normalizeSymbols(wl.BreadthBasket)
	return &wl, nil
}

func normalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
