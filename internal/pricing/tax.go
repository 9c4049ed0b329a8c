package pricing

import "github.com/shopspring/decimal"

var half = decimal.New(5, -1)

// TaxBreakdown splits a tax-inclusive amount into its base and tax parts.
type TaxBreakdown struct {
	BaseAmount decimal.Decimal `json:"baseAmount"`
	Tax        decimal.Decimal `json:"tax"`
}

// DecomposeTax splits amount using the engine's inclusive tax rate.
func (e *Engine) DecomposeTax(amount decimal.Decimal) TaxBreakdown {
	return DecomposeTax(amount, e.cfg.taxRate)
}

// DecomposeTax splits an amount that already includes tax at rate.
func DecomposeTax(amount, rate decimal.Decimal) TaxBreakdown {
	base := amount.Div(decimal.NewFromInt(1).Add(rate))
	return TaxBreakdown{BaseAmount: base, Tax: amount.Sub(base)}
}

// ReceiptTax is the printed form of the tax: two equal halves of the GST and
// the rounding applied to reach a whole payable amount.
type ReceiptTax struct {
	CGST      decimal.Decimal `json:"cgst"`
	SGST      decimal.Decimal `json:"sgst"`
	NetAmount decimal.Decimal `json:"netAmount"`
	RoundOff  decimal.Decimal `json:"roundOff"`
}

// SplitForReceipt derives the receipt tax lines from a bill total and its tax.
func SplitForReceipt(total, tax decimal.Decimal) ReceiptTax {
	cgst := tax.Mul(half)
	net := total.Round(0)
	return ReceiptTax{
		CGST:      cgst,
		SGST:      tax.Sub(cgst),
		NetAmount: net,
		RoundOff:  net.Sub(total),
	}
}
