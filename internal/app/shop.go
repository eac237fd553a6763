package app

import (
	"context"
	"errors"
	"fmt"

	"live-quiz-service/internal/domain"
)

// DefaultPackCost is the price of one pack.
const DefaultPackCost = 5

// maxPurchaseAttempts bounds redraws when a concurrent purchase unlocked the drawn item first.
const maxPurchaseAttempts = 5

// Tier is a rarity band of the cosmetic catalog.
type Tier struct {
	Rarity string
	Weight int // relative draw weight
	Count  int // items are named "<rarity>-1".."<rarity>-<count>"
}

// Item returns the identifier of the n-th (1-based) item of the tier.
func (t Tier) Item(n int) string {
	return fmt.Sprintf("%s-%d", t.Rarity, n)
}

// DefaultCatalog is 60% common (20 items), 30% rare (10), 10% epic (5).
var DefaultCatalog = []Tier{
	{Rarity: "common", Weight: 60, Count: 20},
	{Rarity: "rare", Weight: 30, Count: 10},
	{Rarity: "epic", Weight: 10, Count: 5},
}

// PackResult is the outcome of opening a pack.
type PackResult struct {
	Item    string         `json:"item"`
	Rarity  string         `json:"rarity"`
	Profile domain.Profile `json:"profile"`
}

// Shop sells packs that unlock one new cosmetic item each.
type Shop struct {
	profiles ProfileStore
	catalog  []Tier
	cost     int
	rnd      Random
}

func NewShop(profiles ProfileStore, catalog []Tier, cost int, rnd Random) *Shop {
	if len(catalog) == 0 {
		catalog = DefaultCatalog
	}
	if cost <= 0 {
		cost = DefaultPackCost
	}
	if rnd == nil {
		rnd = NewRandom()
	}
	return &Shop{profiles: profiles, catalog: catalog, cost: cost, rnd: rnd}
}

// BuyPack debits the pack cost and unlocks exactly one item the user does not own yet.
// With an insufficient balance or a complete collection nothing is mutated.
func (s *Shop) BuyPack(ctx context.Context, userID string) (PackResult, error) {
	for attempt := 0; attempt < maxPurchaseAttempts; attempt++ {
		profile, err := s.profiles.GetProfile(ctx, userID)
		if err != nil {
			return PackResult{}, err
		}
		if profile.Balance < s.cost {
			return PackResult{}, domain.ErrInsufficientFunds
		}
		tier, item, ok := s.draw(profile)
		if !ok {
			return PackResult{}, domain.Wrap(domain.CodeInvalidState, "every item is already unlocked", nil)
		}
		updated, err := s.profiles.Purchase(ctx, userID, s.cost, item)
		if errors.Is(err, domain.ErrItemOwned) {
			continue
		}
		if err != nil {
			return PackResult{}, err
		}
		return PackResult{Item: item, Rarity: tier.Rarity, Profile: updated}, nil
	}
	return PackResult{}, domain.Wrap(domain.CodeUnavailable, "pack purchase kept conflicting", nil)
}

// SelectItem makes an unlocked item the user's displayed cosmetic.
func (s *Shop) SelectItem(ctx context.Context, userID, item string) (domain.Profile, error) {
	return s.profiles.SetSelectedItem(ctx, userID, item)
}

// draw picks a rarity by weight among tiers that still have unowned items, then an
// unowned item within it uniformly.
func (s *Shop) draw(profile domain.Profile) (Tier, string, bool) {
	type candidate struct {
		tier  Tier
		items []string
	}
	var candidates []candidate
	total := 0
	for _, tier := range s.catalog {
		var items []string
		for n := 1; n <= tier.Count; n++ {
			if item := tier.Item(n); !profile.Owns(item) {
				items = append(items, item)
			}
		}
		if len(items) == 0 || tier.Weight <= 0 {
			continue
		}
		candidates = append(candidates, candidate{tier: tier, items: items})
		total += tier.Weight
	}
	if total == 0 {
		return Tier{}, "", false
	}

	roll := s.rnd.Intn(total)
	for _, c := range candidates {
		if roll < c.tier.Weight {
			return c.tier, c.items[s.rnd.Intn(len(c.items))], true
		}
		roll -= c.tier.Weight
	}
	return Tier{}, "", false
}
