package pricing

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidConfig is returned when a rule table or discount tier list is malformed.
var ErrInvalidConfig = errors.New("invalid pricing config")

// DefaultTaxRate is the GST rate included in every shelf price.
var DefaultTaxRate = decimal.RequireFromString("0.05")

// Rule prices one canonical category. BundleUnitPrice is the price of a full
// bundle of BundleQuantity units, not of a single unit inside the bundle.
type Rule struct {
	Category        string          `json:"category"`
	SingleUnitPrice decimal.Decimal `json:"singleUnitPrice"`
	BundleUnitPrice decimal.Decimal `json:"bundleUnitPrice"`
	BundleQuantity  int             `json:"bundleQuantity"`
}

// Tier unlocks a flat discount once the cart subtotal reaches MinimumSubtotal.
type Tier struct {
	MinimumSubtotal decimal.Decimal `json:"minimumSubtotal"`
	FlatDiscount    decimal.Decimal `json:"flatDiscount"`
}

// Config is the immutable rule table used by an Engine. The zero value has no
// rules, no tiers and a zero tax rate; use NewConfig or DefaultConfig.
type Config struct {
	rules   []Rule
	index   map[string]int
	tiers   []Tier
	taxRate decimal.Decimal
}

// NewConfig validates the provided tables and returns a Config. Tiers are
// stored sorted by descending minimum subtotal.
func NewConfig(rules []Rule, tiers []Tier, taxRate decimal.Decimal) (Config, error) {
	if taxRate.IsNegative() {
		return Config{}, fmt.Errorf("tax rate must not be negative: %w", ErrInvalidConfig)
	}
	cfg := Config{
		rules:   make([]Rule, 0, len(rules)),
		index:   make(map[string]int, len(rules)),
		tiers:   make([]Tier, 0, len(tiers)),
		taxRate: taxRate,
	}
	for _, r := range rules {
		if err := validateRule(r); err != nil {
			return Config{}, err
		}
		key := categoryKey(r.Category)
		if _, dup := cfg.index[key]; dup {
			return Config{}, fmt.Errorf("duplicate rule for category %q: %w", r.Category, ErrInvalidConfig)
		}
		cfg.index[key] = len(cfg.rules)
		cfg.rules = append(cfg.rules, r)
	}
	for _, t := range tiers {
		if err := validateTier(t); err != nil {
			return Config{}, err
		}
		for _, existing := range cfg.tiers {
			if existing.MinimumSubtotal.Equal(t.MinimumSubtotal) {
				return Config{}, fmt.Errorf("duplicate tier %s: %w", t.MinimumSubtotal, ErrInvalidConfig)
			}
		}
		cfg.tiers = append(cfg.tiers, t)
	}
	sortTiers(cfg.tiers)
	return cfg, nil
}

// Rule looks up the rule for category, ignoring case.
func (c Config) Rule(category string) (Rule, bool) {
	i, ok := c.index[categoryKey(category)]
	if !ok {
		return Rule{}, false
	}
	return c.rules[i], true
}

// Rules returns a copy of the rule table in declaration order.
func (c Config) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// Tiers returns a copy of the discount tiers, highest threshold first.
func (c Config) Tiers() []Tier {
	return append([]Tier(nil), c.tiers...)
}

// TaxRate returns the inclusive tax rate, e.g. 0.05 for 5%.
func (c Config) TaxRate() decimal.Decimal {
	return c.taxRate
}

// Tier returns the single highest tier whose threshold does not exceed subtotal.
func (c Config) Tier(subtotal decimal.Decimal) (Tier, bool) {
	for _, t := range c.tiers {
		if t.MinimumSubtotal.LessThanOrEqual(subtotal) {
			return t, true
		}
	}
	return Tier{}, false
}

// WithRule returns a copy of c where the rule for r.Category is replaced by r,
// or r is appended when the category is new. c itself is left untouched.
func (c Config) WithRule(r Rule) (Config, error) {
	if err := validateRule(r); err != nil {
		return Config{}, err
	}
	rules := c.Rules()
	if i, ok := c.index[categoryKey(r.Category)]; ok {
		rules[i] = r
	} else {
		rules = append(rules, r)
	}
	return NewConfig(rules, c.tiers, c.taxRate)
}

// WithTier returns a copy of c where the tier with the same threshold is
// replaced by t, or t is added.
func (c Config) WithTier(t Tier) (Config, error) {
	if err := validateTier(t); err != nil {
		return Config{}, err
	}
	tiers := make([]Tier, 0, len(c.tiers)+1)
	for _, existing := range c.tiers {
		if !existing.MinimumSubtotal.Equal(t.MinimumSubtotal) {
			tiers = append(tiers, existing)
		}
	}
	tiers = append(tiers, t)
	return NewConfig(c.rules, tiers, c.taxRate)
}

func validateRule(r Rule) error {
	if strings.TrimSpace(r.Category) == "" {
		return fmt.Errorf("rule category is required: %w", ErrInvalidConfig)
	}
	if r.BundleQuantity < 1 {
		return fmt.Errorf("rule %q: bundle quantity must be at least 1: %w", r.Category, ErrInvalidConfig)
	}
	if r.SingleUnitPrice.IsNegative() || r.BundleUnitPrice.IsNegative() {
		return fmt.Errorf("rule %q: prices must not be negative: %w", r.Category, ErrInvalidConfig)
	}
	return nil
}

func validateTier(t Tier) error {
	if t.MinimumSubtotal.IsNegative() || t.FlatDiscount.IsNegative() {
		return fmt.Errorf("tier %s: amounts must not be negative: %w", t.MinimumSubtotal, ErrInvalidConfig)
	}
	return nil
}

func sortTiers(tiers []Tier) {
	sort.SliceStable(tiers, func(i, j int) bool {
		return tiers[i].MinimumSubtotal.GreaterThan(tiers[j].MinimumSubtotal)
	})
}

func categoryKey(category string) string {
	return strings.ToLower(category)
}
