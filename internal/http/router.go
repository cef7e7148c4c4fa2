package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Cart           *CartHandler
	Checkout       *CheckoutHandler
	Feed           *CartFeed
	RequestTimeout time.Duration
	Log            *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(RequestLogger(cfg.Log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(SessionMiddleware)

		// long lived, so no timeout or compression
		if cfg.Feed != nil {
			r.Get("/cart/ws", cfg.Feed.Serve)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.RequestTimeout))
			r.Use(middleware.Compress(5))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cfg.Cart.GetCart)
				r.Delete("/", cfg.Cart.ClearCart)
				r.Get("/sellers", cfg.Cart.GetSellers)
				r.Post("/items", cfg.Cart.AddItem)
				r.Put("/items/{item_id}", cfg.Cart.UpdateQuantity)
				r.Delete("/items/{item_id}", cfg.Cart.RemoveItem)
			})
			if cfg.Checkout != nil {
				r.Post("/checkout", cfg.Checkout.InitiateCheckout)
			}
		})
	})

	return r
}
