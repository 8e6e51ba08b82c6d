// Package rank scores vendor candidates against a target part and orders
// them under a stock-first or price-first preference.
package rank

import (
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/charlesh97/bomhelper/internal/vendor"
)

// SortMode selects how a retrieved candidate list is ordered. Re-applying a
// mode to an already-retrieved list never triggers a new provider call.
type SortMode string

const (
	SortByStock SortMode = "stock"
	SortByPrice SortMode = "price"
)

// Valid reports whether m is a known sort mode.
func (m SortMode) Valid() bool {
	return m == SortByStock || m == SortByPrice
}

// Weights for the four sub-scores. They are normalized to sum to 1 before
// scoring.
type Weights struct {
	Stock        float64
	Price        float64
	Lifecycle    float64
	PackageMatch float64
}

// DefaultWeights is the baseline blend used when no preference applies.
var DefaultWeights = Weights{Stock: 0.3, Price: 0.5, Lifecycle: 0.1, PackageMatch: 0.1}

// StockWeights is the blend for stock-preference ranking.
var StockWeights = Weights{Stock: 0.6, Price: 0.2, Lifecycle: 0.1, PackageMatch: 0.1}

func (w Weights) normalized() Weights {
	total := w.Stock + w.Price + w.Lifecycle + w.PackageMatch
	if total <= 0 {
		return DefaultWeights
	}
	return Weights{
		Stock:        w.Stock / total,
		Price:        w.Price / total,
		Lifecycle:    w.Lifecycle / total,
		PackageMatch: w.PackageMatch / total,
	}
}

// ScoreStock maps on-hand stock to a 0-100 step scale.
func ScoreStock(stock int) float64 {
	switch {
	case stock <= 0:
		return 0
	case stock >= 10000:
		return 100
	case stock >= 1000:
		return 80
	case stock >= 100:
		return 60
	case stock >= 10:
		return 40
	default:
		return 20
	}
}

// parsePrice strips currency decoration and parses with decimal so values
// like "$1,234.56" compare exactly.
func parsePrice(raw string) (decimal.Decimal, bool) {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(strings.TrimSpace(raw))
	if cleaned == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// lowestPrice returns the lowest parseable price across all breaks.
func lowestPrice(p vendor.Part) (decimal.Decimal, bool) {
	var min decimal.Decimal
	found := false
	for _, pb := range p.PriceBreaks {
		d, ok := parsePrice(pb.Price)
		if !ok {
			continue
		}
		if !found || d.LessThan(min) {
			min = d
			found = true
		}
	}
	return min, found
}

// UnitPrice extracts the single-unit price used for price-mode ordering:
// the quantity=1 break when present, otherwise the first parseable break.
// ok is false when no break parses; such candidates sort worst.
func UnitPrice(p vendor.Part) (price decimal.Decimal, ok bool) {
	var first decimal.Decimal
	haveFirst := false
	for _, pb := range p.PriceBreaks {
		d, parsed := parsePrice(pb.Price)
		if !parsed {
			continue
		}
		if !haveFirst {
			first = d
			haveFirst = true
		}
		if pb.Quantity == 1 {
			return d, true
		}
	}
	return first, haveFirst
}

// ScorePrice maps the lowest parsed price to a 0-100 step scale, neutral 50
// when no price parses.
func ScorePrice(p vendor.Part) float64 {
	min, ok := lowestPrice(p)
	if !ok {
		return 50
	}
	price := min.InexactFloat64()
	switch {
	case price <= 0.01:
		return 100
	case price <= 0.10:
		return 90
	case price <= 1.00:
		return 70
	case price <= 10.00:
		return 50
	case price <= 50.00:
		return 30
	default:
		return 10
	}
}

// ScoreLifecycle maps a vendor lifecycle status to a 0-100 scale.
func ScoreLifecycle(lifecycle string) float64 {
	switch strings.ToUpper(strings.TrimSpace(lifecycle)) {
	case "":
		return 50
	case "ACTIVE", "LIFEBUY", "NEW", "NEW PRODUCT", "NEW AT MOUSER":
		return 100
	case "LAST TIME BUY", "NOT RECOMMENDED FOR NEW DESIGNS":
		return 30
	case "OBSOLETE", "EOL", "END OF LIFE":
		return 0
	default:
		return 50
	}
}

// NormalizePackage uppercases and strips spaces, dashes and underscores so
// "SOT-23" and "sot 23" compare equal.
func NormalizePackage(pkg string) string {
	pkg = strings.ToUpper(strings.TrimSpace(pkg))
	return strings.NewReplacer(" ", "", "-", "", "_", "").Replace(pkg)
}

// PackagesMatch reports whether two package strings match after
// normalization, including substring containment in either direction
// ("0603" vs "0603-0805"). Symmetric by construction.
func PackagesMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	na, nb := NormalizePackage(a), NormalizePackage(b)
	if na == "" || nb == "" {
		return false
	}
	return na == nb || strings.Contains(na, nb) || strings.Contains(nb, na)
}

// ScorePackageMatch scores the candidate package against the target: 100 on
// match, 0 on mismatch, neutral 50 when the target has no package at all.
func ScorePackageMatch(candidatePkg, targetPkg string) float64 {
	if strings.TrimSpace(targetPkg) == "" {
		return 50
	}
	if strings.TrimSpace(candidatePkg) == "" {
		return 0
	}
	if PackagesMatch(candidatePkg, targetPkg) {
		return 100
	}
	return 0
}

// Score computes the weighted 0-100 score for one candidate.
func Score(p vendor.Part, targetPackage string, w Weights) float64 {
	w = w.normalized()
	total := w.Stock*ScoreStock(p.Stock) +
		w.Price*ScorePrice(p) +
		w.Lifecycle*ScoreLifecycle(p.Lifecycle) +
		w.PackageMatch*ScorePackageMatch(p.Package, targetPackage)
	return math.Round(total*100) / 100
}

// Rank attaches weighted scores and orders candidates under the given mode.
// The input slice is not modified; ranking the output again with the same
// mode yields the same order.
//
// stock mode: weighted score descending, ties by stock descending.
// price mode: unit price ascending (unparseable last), ties by stock
// descending; scores are still attached for display.
func Rank(parts []vendor.Part, targetPackage string, mode SortMode) []vendor.Part {
	ranked := make([]vendor.Part, len(parts))
	copy(ranked, parts)

	weights := StockWeights
	if mode == SortByPrice {
		weights = DefaultWeights
	}
	for i := range ranked {
		ranked[i].Score = Score(ranked[i], targetPackage, weights)
	}

	if mode == SortByPrice {
		sort.SliceStable(ranked, func(i, j int) bool {
			pi, oki := UnitPrice(ranked[i])
			pj, okj := UnitPrice(ranked[j])
			if oki != okj {
				return oki
			}
			if oki && okj && !pi.Equal(pj) {
				return pi.LessThan(pj)
			}
			return ranked[i].Stock > ranked[j].Stock
		})
		return ranked
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Stock > ranked[j].Stock
	})
	return ranked
}
