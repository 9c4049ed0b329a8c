package cart

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/pricing"
)

// ErrNotFound indicates the requested cart could not be located.
var ErrNotFound = errors.New("cart not found")

// ErrInvalidInput is returned when the provided payload is invalid.
var ErrInvalidInput = errors.New("invalid input")

// ErrInvalidQuantity rejects quantities below one. It wraps ErrInvalidInput.
var ErrInvalidQuantity = fmt.Errorf("quantity must be at least 1: %w", ErrInvalidInput)

// ErrLineNotFound indicates the line id is not part of the cart.
var ErrLineNotFound = errors.New("cart line not found")

// State is the pricing state of a cart.
type State int

const (
	// Empty carts have no lines.
	Empty State = iota
	// Stable carts have every line priced against the current composition.
	Stable
	// Dirty carts were mutated and have not been recomputed yet.
	Dirty
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Stable:
		return "stable"
	case Dirty:
		return "dirty"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Line is a priced cart line. ListPrice is the price supplied when the line was
// scanned; UnitPrice and LineTotal are the current priced values. LineTotal is
// authoritative: for rule-priced lines UnitPrice is LineTotal/Quantity rounded
// to the division precision and is only meant for display.
type Line struct {
	ID             uuid.UUID       `json:"id"`
	Seq            uint64          `json:"seq"`
	Item           pricing.Item    `json:"item"`
	Quantity       int             `json:"qty"`
	ListPrice      decimal.Decimal `json:"listPrice"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	LineTotal      decimal.Decimal `json:"lineTotal"`
	ManualOverride bool            `json:"manualOverride"`
}

// Cart holds lines in display order and keeps their prices consistent with
// the engine's rules. A Cart is not safe for concurrent use.
type Cart struct {
	ID uuid.UUID

	engine     *pricing.Engine
	lines      []Line
	nextSeq    uint64
	state      State
	oneTime    decimal.Decimal
	offers     []pricing.CustomerOffer
	customerID uuid.UUID
}

// New returns an empty cart priced by engine.
func New(engine *pricing.Engine) *Cart {
	return &Cart{ID: uuid.New(), engine: engine, oneTime: decimal.Zero}
}

// State reports the current pricing state.
func (c *Cart) State() State { return c.state }

// CustomerID returns the attached customer, or uuid.Nil.
func (c *Cart) CustomerID() uuid.UUID { return c.customerID }

// OneTimeDiscount returns the flat discount entered for this checkout.
func (c *Cart) OneTimeDiscount() decimal.Decimal { return c.oneTime }

// Lines returns a copy of the lines in display order.
func (c *Cart) Lines() []Line {
	return append([]Line(nil), c.lines...)
}

// Line returns the line with the given id.
func (c *Cart) Line(id uuid.UUID) (Line, error) {
	idx, err := c.indexOf(id)
	if err != nil {
		return Line{}, err
	}
	return c.lines[idx], nil
}

// AddLine appends a scanned item and re-prices the cart.
func (c *Cart) AddLine(item pricing.Item, qty int, listPrice decimal.Decimal) (Line, error) {
	if qty <= 0 {
		return Line{}, fmt.Errorf("add %q: %w", item.SKU, ErrInvalidQuantity)
	}
	if listPrice.IsNegative() {
		return Line{}, fmt.Errorf("unit price must not be negative: %w", ErrInvalidInput)
	}
	c.nextSeq++
	line := Line{
		ID:        uuid.New(),
		Seq:       c.nextSeq,
		Item:      item,
		Quantity:  qty,
		ListPrice: listPrice,
		UnitPrice: listPrice,
	}
	c.lines = append(c.lines, line)
	c.markDirty()
	c.Recompute()
	return c.lines[len(c.lines)-1], nil
}

// RemoveLine drops a line and re-prices the rest.
func (c *Cart) RemoveLine(id uuid.UUID) error {
	idx, err := c.indexOf(id)
	if err != nil {
		return err
	}
	c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
	c.markDirty()
	c.Recompute()
	return nil
}

// ChangeQuantity sets a line's quantity and re-prices the cart.
func (c *Cart) ChangeQuantity(id uuid.UUID, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	idx, err := c.indexOf(id)
	if err != nil {
		return err
	}
	c.lines[idx].Quantity = qty
	c.markDirty()
	c.Recompute()
	return nil
}

// SetManualPrice pins a line's unit price. Other lines keep their prices: the
// pinned line's quantity still counts toward its category's cohort, which
// does not change here.
func (c *Cart) SetManualPrice(id uuid.UUID, unitPrice decimal.Decimal) error {
	if unitPrice.IsNegative() {
		return fmt.Errorf("unit price must not be negative: %w", ErrInvalidInput)
	}
	idx, err := c.indexOf(id)
	if err != nil {
		return err
	}
	line := &c.lines[idx]
	line.ManualOverride = true
	line.UnitPrice = unitPrice
	line.LineTotal = unitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
	return nil
}

// ClearManualPrice returns a line to rule pricing.
func (c *Cart) ClearManualPrice(id uuid.UUID) error {
	idx, err := c.indexOf(id)
	if err != nil {
		return err
	}
	if !c.lines[idx].ManualOverride {
		return nil
	}
	c.lines[idx].ManualOverride = false
	c.lines[idx].UnitPrice = c.lines[idx].ListPrice
	c.markDirty()
	c.Recompute()
	return nil
}

// SetOneTimeDiscount records the flat discount applied after the tier step.
func (c *Cart) SetOneTimeDiscount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("one-time discount must not be negative: %w", ErrInvalidInput)
	}
	c.oneTime = amount
	return nil
}

// SetOffers replaces the customer offers considered by Total.
func (c *Cart) SetOffers(offers []pricing.CustomerOffer) {
	c.offers = append([]pricing.CustomerOffer(nil), offers...)
}

// AttachCustomer records the customer and the offers loaded for them.
func (c *Cart) AttachCustomer(customerID uuid.UUID, offers []pricing.CustomerOffer) {
	c.customerID = customerID
	c.SetOffers(offers)
}

// UseEngine swaps the rule set and re-prices every line against it.
func (c *Cart) UseEngine(engine *pricing.Engine) {
	c.engine = engine
	c.markDirty()
	c.Recompute()
}

// Reorder changes display order. ids must name every line exactly once.
// Bundle allocation follows insertion order, so prices do not move.
func (c *Cart) Reorder(ids []uuid.UUID) error {
	if len(ids) != len(c.lines) {
		return fmt.Errorf("reorder needs %d line ids, got %d: %w", len(c.lines), len(ids), ErrInvalidInput)
	}
	byID := make(map[uuid.UUID]Line, len(c.lines))
	for _, l := range c.lines {
		byID[l.ID] = l
	}
	ordered := make([]Line, 0, len(ids))
	for _, id := range ids {
		l, ok := byID[id]
		if !ok {
			return fmt.Errorf("reorder %s: %w", id, ErrLineNotFound)
		}
		delete(byID, id)
		ordered = append(ordered, l)
	}
	c.lines = ordered
	return nil
}

// Recompute re-prices every line that is not manually overridden, each
// against the full current cart.
func (c *Cart) Recompute() {
	if len(c.lines) == 0 {
		c.state = Empty
		return
	}
	view := c.pricingLines()
	for i := range c.lines {
		line := &c.lines[i]
		qty := decimal.NewFromInt(int64(line.Quantity))
		if line.ManualOverride {
			line.LineTotal = line.UnitPrice.Mul(qty)
			continue
		}
		line.LineTotal = c.engine.PriceLine(view[i], view, pricing.Options{})
		line.UnitPrice = line.LineTotal.Div(qty)
	}
	c.state = Stable
	if obs.CartRecomputeTotal != nil {
		obs.CartRecomputeTotal.Inc()
	}
}

// Subtotal sums the current line totals.
func (c *Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range c.lines {
		sum = sum.Add(l.LineTotal)
	}
	return sum
}

// Total reconciles the bill. It has no side effects.
func (c *Cart) Total(now time.Time) pricing.Result {
	return c.engine.Summarize(c.Subtotal(), c.offers, c.oneTime, now)
}

// DiscountedLines spreads the discount of res, a result of Total, over the
// lines in proportion to their totals. It is for display only.
func (c *Cart) DiscountedLines(res pricing.Result) []Line {
	view := c.pricingLines()
	opts := pricing.Options{
		ApplyProportionalDiscount: true,
		DiscountAmount:            res.TotalDiscount,
		ReferenceSubtotal:         res.Subtotal,
	}
	out := c.Lines()
	for i := range out {
		total := c.engine.PriceLine(view[i], view, opts)
		out[i].LineTotal = total
		out[i].UnitPrice = total.Div(decimal.NewFromInt(int64(out[i].Quantity)))
	}
	return out
}

// Clear empties the cart and drops its discounts and customer.
func (c *Cart) Clear() {
	c.lines = nil
	c.oneTime = decimal.Zero
	c.offers = nil
	c.customerID = uuid.Nil
	c.state = Empty
}

func (c *Cart) markDirty() {
	c.state = Dirty
}

func (c *Cart) indexOf(id uuid.UUID) (int, error) {
	for i, l := range c.lines {
		if l.ID == id {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%s: %w", id, ErrLineNotFound)
}

// pricingLines builds the engine's view of the cart. Rule-priced lines carry
// their list price so the missing-rule fallback never compounds rounding.
func (c *Cart) pricingLines() []pricing.Line {
	view := make([]pricing.Line, len(c.lines))
	for i, l := range c.lines {
		price := l.ListPrice
		if l.ManualOverride {
			price = l.UnitPrice
		}
		view[i] = pricing.Line{
			ID:             l.ID,
			Seq:            l.Seq,
			Item:           l.Item,
			Quantity:       l.Quantity,
			UnitPrice:      price,
			ManualOverride: l.ManualOverride,
		}
	}
	return view
}
