package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type cartItemResponse struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Donation  decimal.Decimal `json:"donation"`
}

type cartResponse struct {
	ID        string             `json:"id"`
	IsGuest   bool               `json:"is_guest"`
	Items     []cartItemResponse `json:"items"`
	Total     decimal.Decimal    `json:"total"`
	Donation  decimal.Decimal    `json:"donation"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func toCartResponse(c domain.Cart) cartResponse {
	items := make([]cartItemResponse, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, cartItemResponse{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Subtotal:  item.Subtotal(),
			Donation:  item.Donation(),
		})
	}
	return cartResponse{
		ID:        c.ID,
		IsGuest:   c.IsGuest,
		Items:     items,
		Total:     c.Total(),
		Donation:  c.Donation(),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

type openCartRequest struct {
	CartID string `json:"cart_id"`
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
}

type setQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

// openCart возвращает существующую корзину или создаёт новую гостевую.
func (h *handler) openCart(w http.ResponseWriter, r *http.Request) {
	var req openCartRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		h.fail(w, r, err)
		return
	}

	cart, err := h.carts.Open(r.Context(), req.CartID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	status := http.StatusOK
	if cart.ID != req.CartID {
		status = http.StatusCreated
	}
	writeJSON(w, status, toCartResponse(cart))
}

func (h *handler) getCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(cart))
}

func (h *handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.ProductID == "" {
		h.fail(w, r, domain.ErrProductIDRequired)
		return
	}

	cart, err := h.carts.AddItem(r.Context(), chi.URLParam(r, "id"), req.ProductID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(cart))
}

func (h *handler) setCartItemQuantity(w http.ResponseWriter, r *http.Request) {
	var req setQuantityRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Quantity == nil {
		h.fail(w, r, domain.ErrCartQtyInvalid)
		return
	}

	cart, err := h.carts.SetQuantity(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "productID"), *req.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(cart))
}

func (h *handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.RemoveItem(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "productID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(cart))
}

func (h *handler) clearCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.Clear(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(cart))
}
