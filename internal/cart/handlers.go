package cart

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/offer"
	"github.com/noah-isme/backend-kasir/internal/pricing"
)

// Handler wires carts to HTTP.
type Handler struct {
	Carts    *Registry
	Offers   offer.Source
	Validate *validator.Validate
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Register mounts the cart and pricing routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/carts", func(c chi.Router) {
		c.Post("/", h.Create)
		c.Route("/{id}", func(one chi.Router) {
			one.Get("/", h.Get)
			one.Delete("/", h.Clear)
			one.Post("/items", h.AddItem)
			one.Put("/items/order", h.Reorder)
			one.Patch("/items/{lineId}", h.UpdateItem)
			one.Delete("/items/{lineId}", h.RemoveItem)
			one.Put("/items/{lineId}/price", h.SetPrice)
			one.Delete("/items/{lineId}/price", h.ClearPrice)
			one.Put("/discount", h.SetDiscount)
			one.Put("/customer", h.AttachCustomer)
		})
	})
	r.Get("/pricing/rules", h.Rules)
}

type addItemRequest struct {
	SKU       string           `json:"sku" validate:"required,max=64"`
	Name      string           `json:"name" validate:"max=200"`
	Section   string           `json:"section" validate:"required"`
	Style     string           `json:"style"`
	Qty       int              `json:"qty"`
	UnitPrice *decimal.Decimal `json:"unitPrice" validate:"required"`
}

type quantityRequest struct {
	Qty int `json:"qty"`
}

type priceRequest struct {
	UnitPrice *decimal.Decimal `json:"unitPrice" validate:"required"`
}

type discountRequest struct {
	Amount *decimal.Decimal `json:"amount" validate:"required"`
}

type customerRequest struct {
	CustomerID string `json:"customerId" validate:"required,uuid"`
}

type reorderRequest struct {
	LineIDs []uuid.UUID `json:"lineIds" validate:"required"`
}

// View is the cart as rendered to clients.
type View struct {
	ID              uuid.UUID          `json:"id"`
	State           string             `json:"state"`
	CustomerID      *uuid.UUID         `json:"customerId,omitempty"`
	OneTimeDiscount decimal.Decimal    `json:"oneTimeDiscount"`
	Lines           []LineView         `json:"lines"`
	Pricing         pricing.Result     `json:"pricing"`
	Receipt         pricing.ReceiptTax `json:"receipt"`
}

// LineView is a cart line with its share of the cart discount.
type LineView struct {
	Line
	DiscountedTotal decimal.Decimal `json:"discountedTotal"`
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

var defaultValidate = newValidator()

// newValidator reports fields under their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

func (h *Handler) validator() *validator.Validate {
	if h.Validate != nil {
		return h.Validate
	}
	return defaultValidate
}

func (h *Handler) view(c *Cart) View {
	res := c.Total(h.now())
	discounted := c.DiscountedLines(res)
	lines := make([]LineView, 0, len(discounted))
	for i, l := range c.Lines() {
		lines = append(lines, LineView{Line: l, DiscountedTotal: discounted[i].LineTotal})
	}
	v := View{
		ID:              c.ID,
		State:           c.State().String(),
		OneTimeDiscount: c.OneTimeDiscount(),
		Lines:           lines,
		Pricing:         res,
		Receipt:         pricing.SplitForReceipt(res.Total, res.Tax),
	}
	if id := c.CustomerID(); id != uuid.Nil {
		v.CustomerID = &id
	}
	return v
}

// Create opens an empty cart.
func (h *Handler) Create(w http.ResponseWriter, _ *http.Request) {
	id := h.Carts.Create()
	var v View
	_ = h.Carts.With(id, func(c *Cart) error {
		v = h.view(c)
		return nil
	})
	common.Data(w, http.StatusCreated, v)
}

// Get returns the cart with its reconciled bill.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "", http.StatusOK, func(*Cart) error { return nil })
}

// Clear empties the cart.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "clear", http.StatusOK, func(c *Cart) error {
		c.Clear()
		return nil
	})
}

// AddItem scans an item into the cart.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if !h.decode(w, r, &req) {
		return
	}
	item := pricing.Item{
		SKU:     strings.TrimSpace(req.SKU),
		Name:    strings.TrimSpace(req.Name),
		Section: strings.TrimSpace(req.Section),
		Style:   strings.TrimSpace(req.Style),
	}
	h.mutate(w, r, "add_line", http.StatusCreated, func(c *Cart) error {
		_, err := c.AddLine(item, req.Qty, *req.UnitPrice)
		return err
	})
}

// UpdateItem changes a line's quantity.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	lineID, ok := lineParam(w, r)
	if !ok {
		return
	}
	var req quantityRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.mutate(w, r, "change_quantity", http.StatusOK, func(c *Cart) error {
		return c.ChangeQuantity(lineID, req.Qty)
	})
}

// RemoveItem drops a line.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	lineID, ok := lineParam(w, r)
	if !ok {
		return
	}
	h.mutate(w, r, "remove_line", http.StatusOK, func(c *Cart) error {
		return c.RemoveLine(lineID)
	})
}

// SetPrice pins a line's unit price.
func (h *Handler) SetPrice(w http.ResponseWriter, r *http.Request) {
	lineID, ok := lineParam(w, r)
	if !ok {
		return
	}
	var req priceRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.mutate(w, r, "set_manual_price", http.StatusOK, func(c *Cart) error {
		return c.SetManualPrice(lineID, *req.UnitPrice)
	})
}

// ClearPrice returns a line to rule pricing.
func (h *Handler) ClearPrice(w http.ResponseWriter, r *http.Request) {
	lineID, ok := lineParam(w, r)
	if !ok {
		return
	}
	h.mutate(w, r, "clear_manual_price", http.StatusOK, func(c *Cart) error {
		return c.ClearManualPrice(lineID)
	})
}

// Reorder changes the display order of the lines.
func (h *Handler) Reorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.mutate(w, r, "reorder", http.StatusOK, func(c *Cart) error {
		return c.Reorder(req.LineIDs)
	})
}

// SetDiscount records the one-time discount.
func (h *Handler) SetDiscount(w http.ResponseWriter, r *http.Request) {
	var req discountRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.mutate(w, r, "set_discount", http.StatusOK, func(c *Cart) error {
		return c.SetOneTimeDiscount(*req.Amount)
	})
}

// AttachCustomer loads the customer's offers and attaches them to the cart.
func (h *Handler) AttachCustomer(w http.ResponseWriter, r *http.Request) {
	var req customerRequest
	if !h.decode(w, r, &req) {
		return
	}
	customerID := uuid.MustParse(req.CustomerID)
	var offers []pricing.CustomerOffer
	if h.Offers != nil {
		var err error
		offers, err = h.Offers.ForCustomer(r.Context(), customerID)
		if err != nil {
			h.Logger.Error().Err(err).Str("customer_id", customerID.String()).Msg("load customer offers")
			common.JSONError(w, http.StatusServiceUnavailable, "OFFERS_UNAVAILABLE", "customer offers could not be loaded", nil)
			return
		}
	}
	h.mutate(w, r, "attach_customer", http.StatusOK, func(c *Cart) error {
		c.AttachCustomer(customerID, offers)
		return nil
	})
}

// Rules returns the active rule table.
func (h *Handler) Rules(w http.ResponseWriter, _ *http.Request) {
	cfg := h.Carts.Engine().Config()
	common.Data(w, http.StatusOK, map[string]any{
		"rules":   cfg.Rules(),
		"tiers":   cfg.Tiers(),
		"taxRate": cfg.TaxRate(),
	})
}

// mutate runs fn on the cart named in the URL and renders the result. An
// empty op marks a read.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, op string, status int, fn func(*Cart) error) {
	cartID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid cart id", nil)
		return
	}
	var v View
	err = h.Carts.With(cartID, func(c *Cart) error {
		if err := fn(c); err != nil {
			return err
		}
		v = h.view(c)
		return nil
	})
	countMutation(op, err)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if op != "" {
		countDiscounts(v.Pricing.Breakdown)
	}
	common.Data(w, status, v)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON payload", nil)
		return false
	}
	if err := h.validator().Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				details[fe.Field()] = fe.Tag()
			}
			common.WriteError(w, common.Validation(details))
			return false
		}
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.WriteError(w, common.NotFound("cart not found", err))
	case errors.Is(err, ErrLineNotFound):
		common.WriteError(w, common.NotFound("cart line not found", err))
	case errors.Is(err, ErrInvalidQuantity):
		common.WriteError(w, common.NewAppError("INVALID_QUANTITY", ErrInvalidQuantity.Error(), http.StatusUnprocessableEntity, err))
	case errors.Is(err, ErrInvalidInput):
		common.WriteError(w, common.BadRequest(err.Error(), err))
	default:
		h.Logger.Error().Err(err).Msg("cart operation failed")
		common.WriteError(w, err)
	}
}

func lineParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "lineId"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid line id", nil)
		return uuid.Nil, false
	}
	return id, true
}

// countDiscounts records the discount steps in force after a mutation.
func countDiscounts(breakdown []pricing.DiscountLine) {
	if obs.DiscountAppliedTotal == nil {
		return
	}
	for _, d := range breakdown {
		obs.DiscountAppliedTotal.WithLabelValues(d.Kind).Inc()
	}
}

func countMutation(op string, err error) {
	if op == "" || obs.CartMutationsTotal == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	obs.CartMutationsTotal.WithLabelValues(op, result).Inc()
}
