package pricing

import "github.com/shopspring/decimal"

// DefaultConfig returns the store's built-in rule table.
func DefaultConfig() Config {
	cfg, err := NewConfig(defaultRules(), defaultTiers(), DefaultTaxRate)
	if err != nil {
		panic(err)
	}
	return cfg
}

func defaultRules() []Rule {
	rule := func(category string, single, bundle int64, qty int) Rule {
		return Rule{
			Category:        category,
			SingleUnitPrice: decimal.NewFromInt(single),
			BundleUnitPrice: decimal.NewFromInt(bundle),
			BundleQuantity:  qty,
		}
	}
	return []Rule{
		rule("T-shirt", 499, 1199, 3),
		rule("Shirt", 999, 2499, 3),
		rule("Polo", 799, 1999, 3),
		rule("Jeans", 1499, 2599, 2),
		rule(CategoryTrouserFormal, 1299, 2299, 2),
		rule(CategoryTrouserCasual, 1099, 1999, 2),
		rule("Shorts", 599, 999, 2),
		rule("Socks", 149, 399, 3),
	}
}

func defaultTiers() []Tier {
	tier := func(minimum, flat int64) Tier {
		return Tier{MinimumSubtotal: decimal.NewFromInt(minimum), FlatDiscount: decimal.NewFromInt(flat)}
	}
	return []Tier{
		tier(10000, 1500),
		tier(7500, 1000),
		tier(5000, 500),
		tier(3000, 200),
	}
}
