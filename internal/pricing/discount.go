package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Discount kinds, in the order they are applied.
const (
	DiscountKindTier          = "tier"
	DiscountKindOneTime       = "one_time"
	DiscountKindCustomerOffer = "customer_offer"
)

var hundred = decimal.NewFromInt(100)

// CustomerOffer is a percentage discount granted to one customer. Offers are
// treated as non-expiring once active, so ValidUntil is informational.
type CustomerOffer struct {
	Percentage decimal.Decimal `json:"percentage"`
	ValidFrom  time.Time       `json:"validFrom"`
	ValidUntil time.Time       `json:"validUntil"`
	Lifetime   bool            `json:"lifetime"`
}

// DiscountLine is one applied step of the discount sequence.
type DiscountLine struct {
	Kind   string          `json:"kind"`
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

// Discounts is the outcome of ComposeDiscounts.
type Discounts struct {
	Total     decimal.Decimal `json:"total"`
	Breakdown []DiscountLine  `json:"breakdown"`
}

// ComposeDiscounts applies, in order, the best qualifying tier, the one-time
// discount and the best active customer offer. Each step works on the amount
// left by the previous ones. Zero-amount steps are left out of the breakdown.
func (e *Engine) ComposeDiscounts(subtotal decimal.Decimal, offers []CustomerOffer, oneTime decimal.Decimal, now time.Time) Discounts {
	out := Discounts{Total: decimal.Zero, Breakdown: []DiscountLine{}}
	remaining := subtotal

	if tier, ok := e.cfg.Tier(subtotal); ok && tier.FlatDiscount.IsPositive() {
		out.add(DiscountLine{
			Kind:   DiscountKindTier,
			Label:  fmt.Sprintf("Tier Discount (%s+)", tier.MinimumSubtotal.String()),
			Amount: tier.FlatDiscount,
		})
		remaining = remaining.Sub(tier.FlatDiscount)
	}

	if oneTime.IsPositive() {
		out.add(DiscountLine{Kind: DiscountKindOneTime, Label: "One-time Discount", Amount: oneTime})
		remaining = remaining.Sub(oneTime)
	}

	if offer, ok := e.BestOffer(offers, now); ok && remaining.IsPositive() {
		amount := remaining.Mul(offer.Percentage).Div(hundred)
		if amount.IsPositive() {
			out.add(DiscountLine{
				Kind:   DiscountKindCustomerOffer,
				Label:  fmt.Sprintf("Customer Offer (%s%% off)", offer.Percentage.String()),
				Amount: amount,
			})
		}
	}
	return out
}

// BestOffer picks the highest percentage among offers active at now. Offers
// with a percentage outside [0, 100] are skipped and reported once.
func (e *Engine) BestOffer(offers []CustomerOffer, now time.Time) (CustomerOffer, bool) {
	var (
		best  CustomerOffer
		found bool
	)
	for _, o := range offers {
		if o.Percentage.IsNegative() || o.Percentage.GreaterThan(hundred) {
			e.diag.WarnOnce("offer_invalid:"+o.Percentage.String(),
				fmt.Sprintf("ignoring customer offer with percentage %s", o.Percentage))
			continue
		}
		if o.ValidFrom.After(now) {
			continue
		}
		if !found || o.Percentage.GreaterThan(best.Percentage) {
			best = o
			found = true
		}
	}
	return best, found
}

func (d *Discounts) add(line DiscountLine) {
	d.Breakdown = append(d.Breakdown, line)
	d.Total = d.Total.Add(line.Amount)
}
