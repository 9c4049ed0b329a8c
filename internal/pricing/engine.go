package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Engine prices cart lines and cart totals against one immutable Config.
type Engine struct {
	cfg  Config
	diag Diagnostics
}

// NewEngine binds cfg and a diagnostics sink. A nil sink discards warnings.
func NewEngine(cfg Config, diag Diagnostics) *Engine {
	if diag == nil {
		diag = NopDiagnostics{}
	}
	return &Engine{cfg: cfg, diag: diag}
}

// Config returns the rule table the engine was built with.
func (e *Engine) Config() Config {
	return e.cfg
}

// Result is the reconciled bill for a cart.
type Result struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	TotalDiscount decimal.Decimal `json:"totalDiscount"`
	BaseAmount    decimal.Decimal `json:"baseAmount"`
	Tax           decimal.Decimal `json:"tax"`
	Total         decimal.Decimal `json:"total"`
	Breakdown     []DiscountLine  `json:"discountBreakdown"`
}

// Summarize composes discounts over subtotal and splits the inclusive tax out
// of the discounted amount.
func (e *Engine) Summarize(subtotal decimal.Decimal, offers []CustomerOffer, oneTime decimal.Decimal, now time.Time) Result {
	discounts := e.ComposeDiscounts(subtotal, offers, oneTime, now)
	total := subtotal.Sub(discounts.Total)
	tax := e.DecomposeTax(total)
	return Result{
		Subtotal:      subtotal,
		TotalDiscount: discounts.Total,
		BaseAmount:    tax.BaseAmount,
		Tax:           tax.Tax,
		Total:         total,
		Breakdown:     discounts.Breakdown,
	}
}
