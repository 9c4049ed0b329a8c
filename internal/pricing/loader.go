package pricing

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the YAML layout of a rule table file. Amounts are kept as
// strings so they parse exactly into decimals.
type fileConfig struct {
	TaxRate string     `yaml:"tax_rate"`
	Rules   []fileRule `yaml:"rules"`
	Tiers   []fileTier `yaml:"tiers"`
}

type fileRule struct {
	Category        string `yaml:"category"`
	SingleUnitPrice string `yaml:"single_unit_price"`
	BundleUnitPrice string `yaml:"bundle_unit_price"`
	BundleQuantity  int    `yaml:"bundle_quantity"`
}

type fileTier struct {
	MinimumSubtotal string `yaml:"minimum_subtotal"`
	FlatDiscount    string `yaml:"flat_discount"`
}

// LoadConfigFile reads a YAML rule table from path.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read pricing rules: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes a YAML rule table. A missing tax_rate falls back to
// DefaultTaxRate.
func ParseConfig(data []byte) (Config, error) {
	var raw fileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("decode pricing rules: %v: %w", err, ErrInvalidConfig)
	}

	rate := DefaultTaxRate
	if strings.TrimSpace(raw.TaxRate) != "" {
		parsed, err := parseAmount("tax_rate", raw.TaxRate)
		if err != nil {
			return Config{}, err
		}
		rate = parsed
	}

	rules := make([]Rule, 0, len(raw.Rules))
	for i, r := range raw.Rules {
		single, err := parseAmount(fmt.Sprintf("rules[%d].single_unit_price", i), r.SingleUnitPrice)
		if err != nil {
			return Config{}, err
		}
		bundle, err := parseAmount(fmt.Sprintf("rules[%d].bundle_unit_price", i), r.BundleUnitPrice)
		if err != nil {
			return Config{}, err
		}
		rules = append(rules, Rule{
			Category:        strings.TrimSpace(r.Category),
			SingleUnitPrice: single,
			BundleUnitPrice: bundle,
			BundleQuantity:  r.BundleQuantity,
		})
	}

	tiers := make([]Tier, 0, len(raw.Tiers))
	for i, t := range raw.Tiers {
		minimum, err := parseAmount(fmt.Sprintf("tiers[%d].minimum_subtotal", i), t.MinimumSubtotal)
		if err != nil {
			return Config{}, err
		}
		flat, err := parseAmount(fmt.Sprintf("tiers[%d].flat_discount", i), t.FlatDiscount)
		if err != nil {
			return Config{}, err
		}
		tiers = append(tiers, Tier{MinimumSubtotal: minimum, FlatDiscount: flat})
	}

	return NewConfig(rules, tiers, rate)
}

func parseAmount(field, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %q is not a number: %w", field, value, ErrInvalidConfig)
	}
	return d, nil
}
