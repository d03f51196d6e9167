// Package tickers validates stock symbols.
package tickers

import (
	_ "embed"
	"errors"
	"regexp"
	"strings"
)

//go:embed tickers.txt
var known string

var (
	ErrInvalid = errors.New("invalid ticker symbol")

	symbolRE = regexp.MustCompile(`^[A-Z][A-Z0-9.\-]{0,9}$`)
	allowed  = parse(known)
)

func parse(list string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, line := range strings.Split(list, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out[strings.ToUpper(line)] = struct{}{}
	}
	return out
}

// Normalize trims and upper-cases sym and checks its syntax.
func Normalize(sym string) (string, error) {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	if !symbolRE.MatchString(sym) {
		return "", ErrInvalid
	}
	return sym, nil
}

// Known reports whether sym is on the allow-list, ignoring case.
func Known(sym string) bool {
	_, ok := allowed[strings.ToUpper(strings.TrimSpace(sym))]
	return ok
}
