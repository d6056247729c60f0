// Package rpg implements the health and mana attribute domain the REPL
// exposes: mana pools, spell casting and the tiers used when printing.
package rpg

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/nvandessel/ecsrepl/internal/store"
)

// Attribute names.
const (
	AttrHealth  = "health"
	AttrMana    = "mana"
	AttrMaxMana = "max_mana"
)

var (
	// ErrInsufficientResource is returned when a cast costs more mana than the caster has.
	ErrInsufficientResource = errors.New("insufficient mana")
	// ErrInvalidCost is returned for negative spell costs.
	ErrInvalidCost = errors.New("invalid spell cost")
)

// SetHealth writes the health attribute.
func SetHealth(ctx context.Context, s store.EntityStore, id store.EntityID, v int64) error {
	return s.SetAttribute(ctx, id, AttrHealth, v)
}

// SetMana refills the pool: current and maximum mana both become v.
func SetMana(ctx context.Context, s store.EntityStore, id store.EntityID, v int64) error {
	return s.SetAttributes(ctx, id,
		store.Attribute{Name: AttrMana, Value: v},
		store.Attribute{Name: AttrMaxMana, Value: v},
	)
}

// CastResult describes a successful cast.
type CastResult struct {
	Spell     string
	Cost      int64
	Remaining int64
	Effect    string
	Exhausted bool // mana hit zero
}

// Cast spends cost mana from the caster. On error the store is unchanged.
func Cast(ctx context.Context, s store.EntityStore, id store.EntityID, spell string, cost int64) (CastResult, error) {
	if cost < 0 {
		return CastResult{}, fmt.Errorf("cost %d: %w", cost, ErrInvalidCost)
	}

	remaining, err := s.UpdateAttribute(ctx, id, AttrMana, func(mana int64) (int64, error) {
		if mana < cost {
			return 0, fmt.Errorf("required %d, current %d: %w", cost, mana, ErrInsufficientResource)
		}
		return mana - cost, nil
	})
	if err != nil {
		if errors.Is(err, store.ErrAttributeMissing) {
			return CastResult{}, fmt.Errorf("no mana to cast spells: %w", err)
		}
		return CastResult{}, err
	}

	return CastResult{
		Spell:     spell,
		Cost:      cost,
		Remaining: remaining,
		Effect:    SpellEffect(spell),
		Exhausted: remaining == 0,
	}, nil
}

// SpellEffect returns the flavour line for a spell. Unknown spells are arcane.
func SpellEffect(spell string) string {
	switch strings.ToLower(spell) {
	case "fireball":
		return "A blazing fireball erupts from their hands!"
	case "heal":
		return "Healing energy flows through the air!"
	case "lightning":
		return "Lightning crackles with raw power!"
	case "shield":
		return "A protective barrier shimmers into existence!"
	case "teleport":
		return "Reality warps as they vanish and reappear!"
	default:
		return "Arcane energy swirls mysteriously!"
	}
}

// Tier buckets a value for display.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// HealthTier buckets health: above 75 is high, above 30 medium.
func HealthTier(v int64) Tier {
	switch {
	case v > 75:
		return TierHigh
	case v > 30:
		return TierMedium
	default:
		return TierLow
	}
}

// ManaPercent returns cur as a whole percentage of maximum, 0 when maximum <= 0.
func ManaPercent(cur, maximum int64) int64 {
	if maximum <= 0 {
		return 0
	}
	if cur > math.MaxInt64/100 || cur < math.MinInt64/100 {
		// cur*100 would overflow
		switch pct := float64(cur) / float64(maximum) * 100; {
		case pct >= math.MaxInt64:
			return math.MaxInt64
		case pct <= math.MinInt64:
			return math.MinInt64
		default:
			return int64(pct)
		}
	}
	return cur * 100 / maximum
}

// ManaTier buckets mana by percentage: above 75 is high, above 25 medium.
func ManaTier(cur, maximum int64) Tier {
	switch pct := ManaPercent(cur, maximum); {
	case pct > 75:
		return TierHigh
	case pct > 25:
		return TierMedium
	default:
		return TierLow
	}
}

// ManaBar renders a 10-cell bar, one filled cell per 10%.
func ManaBar(cur, maximum int64) string {
	filled := min(max(ManaPercent(cur, maximum)/10, 0), 10)
	return strings.Repeat("#", int(filled)) + strings.Repeat(".", int(10-filled))
}
