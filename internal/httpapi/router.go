// Package httpapi отдаёт каталог и гостевые корзины по HTTP/JSON.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultRequestTimeout = 30 * time.Second

// CatalogService описывает операции каталога, которые нужны HTTP-слою.
type CatalogService interface {
	Create(ctx context.Context, in domain.ProductInput) (domain.Product, error)
	Get(ctx context.Context, id string) (domain.Product, error)
	Patch(ctx context.Context, id string, patch domain.ProductPatch) (domain.Product, error)
	Delete(ctx context.Context, id string) error
	Duplicate(ctx context.Context, source domain.Product) (domain.Product, error)
	ToggleVisibility(ctx context.Context, product domain.Product) (domain.Product, error)
	Reorder(ctx context.Context, orderedIDs []string) error
	List(ctx context.Context, includeHidden bool) ([]domain.Product, error)
}

// CartService описывает операции корзины, которые нужны HTTP-слою.
type CartService interface {
	Open(ctx context.Context, cartID string) (domain.Cart, error)
	Get(ctx context.Context, cartID string) (domain.Cart, error)
	AddItem(ctx context.Context, cartID, productID string) (domain.Cart, error)
	SetQuantity(ctx context.Context, cartID, productID string, qty int) (domain.Cart, error)
	RemoveItem(ctx context.Context, cartID, productID string) (domain.Cart, error)
	Clear(ctx context.Context, cartID string) (domain.Cart, error)
}

// Options задаёт параметры роутера.
type Options struct {
	Logger         *log.Entry
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// Option настраивает роутер.
type Option func(*Options)

// WithLogger задаёт logger для access-логов и ошибок.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithRequestTimeout ограничивает время обработки одного запроса.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.RequestTimeout = timeout
	}
}

// WithAllowedOrigins включает CORS для перечисленных origin.
func WithAllowedOrigins(origins []string) Option {
	return func(opts *Options) {
		opts.AllowedOrigins = origins
	}
}

type handler struct {
	catalog CatalogService
	carts   CartService
	logger  *log.Entry
}

// NewRouter собирает chi-роутер с API каталога и корзин под /api.
func NewRouter(catalog CatalogService, carts CartService, options ...Option) http.Handler {
	opts := Options{RequestTimeout: defaultRequestTimeout}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "http-api")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}

	h := &handler{
		catalog: catalog,
		carts:   carts,
		logger:  opts.Logger,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(opts.RequestTimeout))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.listProducts)
			r.Post("/", h.createProduct)
			r.Put("/order", h.reorderProducts)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getProduct)
				r.Put("/", h.updateProduct)
				r.Delete("/", h.deleteProduct)
				r.Post("/duplicate", h.duplicateProduct)
				r.Post("/visibility", h.toggleVisibility)
			})
		})

		r.Route("/carts", func(r chi.Router) {
			r.Post("/", h.openCart)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getCart)
				r.Post("/items", h.addCartItem)
				r.Delete("/items", h.clearCart)
				r.Put("/items/{productID}", h.setCartItemQuantity)
				r.Delete("/items/{productID}", h.removeCartItem)
			})
		})
	})

	return r
}
