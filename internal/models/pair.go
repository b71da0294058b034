package models

import "strings"

// Pair is an unordered pair of assets chosen by the distance ranker.
// A precedes B in the column order of the table the pair was ranked on.
type Pair struct {
	A        string  `json:"asset_a"`
	B        string  `json:"asset_b"`
	Distance float64 `json:"distance"`
	Rank     int     `json:"rank"`
}

// NewPair builds an unranked pair.
func NewPair(a, b string) Pair {
	return Pair{A: a, B: b}
}

// Key returns the canonical key of the unordered set {A, B}.
func (p Pair) Key() string {
	if p.B < p.A {
		return p.B + "|" + p.A
	}
	return p.A + "|" + p.B
}

// Name returns a display name such as "KO/PEP".
func (p Pair) Name() string {
	return p.A + "/" + p.B
}

// Contains reports whether asset is one of the two legs.
func (p Pair) Contains(asset string) bool {
	return p.A == asset || p.B == asset
}

// ParsePairName parses a display name produced by Name.
func ParsePairName(name string) (Pair, bool) {
	a, b, ok := strings.Cut(name, "/")
	if !ok || a == "" || b == "" || a == b {
		return Pair{}, false
	}
	return NewPair(a, b), true
}
