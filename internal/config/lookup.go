package config

import "strings"

// viper lowercases map keys, so symbol and profile lookups fold case.

// ProfileFor returns the named strategy profile.
func (s Strategy) ProfileFor(name string) (Profile, bool) {
	for k, p := range s.Profiles {
		if strings.EqualFold(k, name) {
			return p, true
		}
	}
	return Profile{}, false
}

// InitialPrice returns the configured starting price of a symbol.
func (m Market) InitialPrice(symbol string) (float64, bool) {
	for k, p := range m.InitialPrices {
		if strings.EqualFold(k, symbol) {
			return p, true
		}
	}
	return 0, false
}

// Upper returns the symbols upper-cased, the form used across the engine.
func Upper(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, strings.ToUpper(strings.TrimSpace(s)))
	}
	return out
}
