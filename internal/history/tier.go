package history

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/treasurechest/internal/domain"
)

// AllTiers is the pseudo-tier selecting every record.
const AllTiers = "All"

// Tier is a named amount bucket. A tier spans from Min up to the next tier's
// Min; the last tier is unbounded.
type Tier struct {
	Name string
	Min  decimal.Decimal // ether
}

// Tiers in ascending order of lower bound.
var Tiers = []Tier{
	{Name: "Common", Min: decimal.New(4, -3)},
	{Name: "Uncommon", Min: decimal.New(8, -3)},
	{Name: "Rare", Min: decimal.New(15, -3)},
	{Name: "Epic", Min: decimal.New(4, -2)},
	{Name: "Legendary", Min: decimal.New(1, -1)},
}

// Classify returns the tier with the greatest bound not exceeding amount.
// Amounts below the lowest bound belong to the lowest tier.
func Classify(ether decimal.Decimal) Tier {
	for i := len(Tiers) - 1; i > 0; i-- {
		if ether.GreaterThanOrEqual(Tiers[i].Min) {
			return Tiers[i]
		}
	}
	return Tiers[0]
}

// ClassifyEvent returns the tier of e.
func ClassifyEvent(e domain.OutcomeEvent) Tier {
	return Classify(e.Ether())
}

// LookupTier resolves a tier name case-insensitively. "All" is accepted and
// returns ok with a zero Tier.
func LookupTier(name string) (Tier, bool) {
	name = strings.TrimSpace(name)
	if strings.EqualFold(name, AllTiers) {
		return Tier{Name: AllTiers}, true
	}
	for _, t := range Tiers {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Tier{}, false
}

// TierNames lists "All" followed by every tier in descending order, the
// order the filter bar shows them.
func TierNames() []string {
	names := make([]string, 0, len(Tiers)+1)
	names = append(names, AllTiers)
	for i := len(Tiers) - 1; i >= 0; i-- {
		names = append(names, Tiers[i].Name)
	}
	return names
}

// FilterByTier returns the records in the named tier, preserving order. "All"
// returns every record; an unknown name returns none.
func FilterByTier(events []domain.OutcomeEvent, name string) []domain.OutcomeEvent {
	tier, ok := LookupTier(name)
	if !ok {
		return []domain.OutcomeEvent{}
	}
	if tier.Name == AllTiers {
		out := make([]domain.OutcomeEvent, len(events))
		copy(out, events)
		return out
	}

	out := make([]domain.OutcomeEvent, 0, len(events))
	for _, e := range events {
		if ClassifyEvent(e).Name == tier.Name {
			out = append(out, e)
		}
	}
	return out
}
