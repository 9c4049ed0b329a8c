package pricing

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Line is the pricing view of a cart line. Seq is assigned once at insertion
// and decides which line claims bundle slots first; display order is ignored.
type Line struct {
	ID             uuid.UUID       `json:"id"`
	Seq            uint64          `json:"seq"`
	Item           Item            `json:"item"`
	Quantity       int             `json:"qty"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	ManualOverride bool            `json:"manualOverride"`
}

// Options tunes PriceLine. The proportional discount is a display aid that
// spreads a cart-level discount over lines; cart totals never use it.
type Options struct {
	ApplyProportionalDiscount bool
	DiscountAmount            decimal.Decimal
	ReferenceSubtotal         decimal.Decimal
}

// PriceLine returns the pre-discount total of line given every line in the
// cart. The result is not rounded.
func (e *Engine) PriceLine(line Line, lines []Line, opts Options) decimal.Decimal {
	price := e.basePrice(line, lines)
	if opts.ApplyProportionalDiscount && opts.ReferenceSubtotal.IsPositive() {
		share := opts.DiscountAmount.Mul(price).Div(opts.ReferenceSubtotal)
		price = price.Sub(share)
	}
	return price
}

func (e *Engine) basePrice(line Line, lines []Line) decimal.Decimal {
	raw := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
	category := ResolveCategory(line.Item)
	rule, ok := e.cfg.Rule(category)
	if !ok {
		e.diag.WarnOnce("rule_missing:"+strings.ToLower(category),
			fmt.Sprintf("no pricing rule for category %q, using stored unit price", category))
		return raw
	}
	if line.ManualOverride {
		return raw
	}

	cohort := line.Quantity
	bundledBefore := 0
	for _, other := range lines {
		if other.ID == line.ID {
			continue
		}
		if !strings.EqualFold(ResolveCategory(other.Item), category) {
			continue
		}
		cohort += other.Quantity
		if other.Seq < line.Seq {
			bundledBefore += other.Quantity
		}
	}

	single := rule.SingleUnitPrice
	if cohort < rule.BundleQuantity {
		return single.Mul(decimal.NewFromInt(int64(line.Quantity)))
	}

	capacity := (cohort / rule.BundleQuantity) * rule.BundleQuantity
	claimedBefore := min(bundledBefore, capacity)
	claimedAfter := min(claimedBefore+line.Quantity, capacity)
	eligible := claimedAfter - claimedBefore
	remaining := line.Quantity - eligible

	// Each line takes the difference of the cohort's running bundle amount, so
	// the rounded shares add up to exactly BundleUnitPrice per full bundle
	// whatever the insertion order.
	bundled := bundleAmount(rule, claimedAfter).Sub(bundleAmount(rule, claimedBefore))
	return bundled.Add(single.Mul(decimal.NewFromInt(int64(remaining))))
}

// bundleAmount prices the first units bundle slots of a cohort. Multiplying
// before dividing keeps a full bundle at exactly BundleUnitPrice.
func bundleAmount(rule Rule, units int) decimal.Decimal {
	return rule.BundleUnitPrice.Mul(decimal.NewFromInt(int64(units))).
		Div(decimal.NewFromInt(int64(rule.BundleQuantity)))
}
