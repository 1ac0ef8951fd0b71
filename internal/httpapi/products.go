package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type productResponse struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Description  string          `json:"description,omitempty"`
	ImageURL     string          `json:"image_url,omitempty"`
	Kcal         float64         `json:"kcal"`
	Protein      float64         `json:"protein"`
	Fats         float64         `json:"fats"`
	Carbs        float64         `json:"carbs"`
	DisplayOrder int             `json:"display_order"`
	Hidden       bool            `json:"hidden"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func toProductResponse(p domain.Product) productResponse {
	return productResponse{
		ID:           p.ID,
		Name:         p.Name,
		Price:        p.Price,
		Description:  p.Description,
		ImageURL:     p.ImageURL,
		Kcal:         p.Kcal,
		Protein:      p.Protein,
		Fats:         p.Fats,
		Carbs:        p.Carbs,
		DisplayOrder: p.DisplayOrder,
		Hidden:       p.Hidden,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

// productRequest описывает тело POST и PUT. В PUT отсутствующие поля не меняются,
// пустой PUT отклоняется с 400.
// display_order не принимается: порядок меняет только PUT /api/products/order.
type productRequest struct {
	Name        *string          `json:"name"`
	Price       *decimal.Decimal `json:"price"`
	Description *string          `json:"description"`
	ImageURL    *string          `json:"image_url"`
	Kcal        *float64         `json:"kcal"`
	Protein     *float64         `json:"protein"`
	Fats        *float64         `json:"fats"`
	Carbs       *float64         `json:"carbs"`
	Hidden      *bool            `json:"hidden"`
}

func (req productRequest) patch() domain.ProductPatch {
	return domain.ProductPatch{
		Name:        req.Name,
		Price:       req.Price,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		Kcal:        req.Kcal,
		Protein:     req.Protein,
		Fats:        req.Fats,
		Carbs:       req.Carbs,
		Hidden:      req.Hidden,
	}
}

func (req productRequest) input() domain.ProductInput {
	return req.patch().Apply(domain.Product{}).Input()
}

type reorderRequest struct {
	IDs []string `json:"ids"`
}

func (h *handler) listProducts(w http.ResponseWriter, r *http.Request) {
	includeHidden := false
	if raw := r.URL.Query().Get("include_hidden"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "include_hidden must be a boolean")
			return
		}
		includeHidden = parsed
	}

	products, err := h.catalog.List(r.Context(), includeHidden)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	resp := make([]productResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, toProductResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) getProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(product))
}

func (h *handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}

	created, err := h.catalog.Create(r.Context(), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(created))
}

func (h *handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}

	updated, err := h.catalog.Patch(r.Context(), chi.URLParam(r, "id"), req.patch())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(updated))
}

func (h *handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) duplicateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	source, err := h.catalog.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	created, err := h.catalog.Duplicate(ctx, source)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(created))
}

func (h *handler) toggleVisibility(w http.ResponseWriter, r *http.Request) {
	updated, err := h.catalog.ToggleVisibility(r.Context(), domain.Product{ID: chi.URLParam(r, "id")})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(updated))
}

func (h *handler) reorderProducts(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		h.fail(w, r, err)
		return
	}

	ctx := r.Context()
	if err := h.catalog.Reorder(ctx, req.IDs); err != nil {
		h.fail(w, r, err)
		return
	}

	products, err := h.catalog.List(ctx, true)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := make([]productResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, toProductResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}
