package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/fjod/go_cart/marketcart/internal/checkout"
	"github.com/fjod/go_cart/marketcart/internal/domain"
	"github.com/fjod/go_cart/marketcart/internal/service"
	"github.com/fjod/go_cart/marketcart/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CartOpener returns the live cart of a session.
type CartOpener interface {
	Open(ctx context.Context, sessionID string) (*store.Store, error)
}

type CartHandler struct {
	carts       CartOpener
	timeout     time.Duration
	maxBodySize int64
	log         *zap.Logger
}

func NewCartHandler(carts CartOpener, timeout time.Duration, maxBodySize int64, log *zap.Logger) *CartHandler {
	return &CartHandler{
		carts:       carts,
		timeout:     timeout,
		maxBodySize: maxBodySize,
		log:         log,
	}
}

type AddItemRequestDTO struct {
	ProductID     string            `json:"product_id"`
	Name          string            `json:"name"`
	Image         string            `json:"image"`
	Price         decimal.Decimal   `json:"price"`
	OriginalPrice *decimal.Decimal  `json:"original_price,omitempty"`
	Quantity      *int              `json:"quantity,omitempty"`
	Variant       map[string]string `json:"variant,omitempty"`
	SellerID      string            `json:"seller_id"`
	SellerName    string            `json:"seller_name"`
}

type UpdateQuantityRequestDTO struct {
	Quantity *int `json:"quantity"`
}

type CartResponseDTO struct {
	SessionID  string            `json:"session_id"`
	Items      []domain.LineItem `json:"items"`
	TotalItems int               `json:"total_items"`
	TotalPrice decimal.Decimal   `json:"total_price"`
}

type SellersResponseDTO struct {
	SessionID string                 `json:"session_id"`
	Sellers   []checkout.SellerOrder `json:"sellers"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	sessionID, st, ok := h.open(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, cartResponse(sessionID, st.Items()))
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	sessionID, st, ok := h.open(w, r)
	if !ok {
		return
	}

	var req AddItemRequestDTO
	if !h.decode(w, r, &req) {
		return
	}

	item, err := st.AddItem(domain.AddItemInput{
		ProductID:     req.ProductID,
		Name:          req.Name,
		Image:         req.Image,
		Price:         req.Price,
		OriginalPrice: req.OriginalPrice,
		Quantity:      req.Quantity,
		Variant:       domain.Variant(req.Variant), // nil stays absent, {} stays empty
		SellerID:      req.SellerID,
		SellerName:    req.SellerName,
	})
	if err != nil {
		handleCartError(w, err)
		return
	}

	h.log.Debug("item added",
		zap.String("session_id", sessionID),
		zap.String("item_id", item.ID),
		zap.Int("quantity", item.Quantity))
	respondJSON(w, http.StatusCreated, cartResponse(sessionID, st.Items()))
}

// PUT /api/v1/cart/items/{item_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	sessionID, st, ok := h.open(w, r)
	if !ok {
		return
	}

	var req UpdateQuantityRequestDTO
	if !h.decode(w, r, &req) {
		return
	}
	if req.Quantity == nil {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity is required")
		return
	}

	// zero or less removes the line; unknown ids are ignored
	st.UpdateQuantity(chi.URLParam(r, "item_id"), *req.Quantity)
	respondJSON(w, http.StatusOK, cartResponse(sessionID, st.Items()))
}

// DELETE /api/v1/cart/items/{item_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	sessionID, st, ok := h.open(w, r)
	if !ok {
		return
	}

	st.RemoveItem(chi.URLParam(r, "item_id"))
	respondJSON(w, http.StatusOK, cartResponse(sessionID, st.Items()))
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	sessionID, st, ok := h.open(w, r)
	if !ok {
		return
	}

	st.ClearCart()
	respondJSON(w, http.StatusOK, cartResponse(sessionID, st.Items()))
}

// GET /api/v1/cart/sellers
func (h *CartHandler) GetSellers(w http.ResponseWriter, r *http.Request) {
	sessionID, st, ok := h.open(w, r)
	if !ok {
		return
	}

	groups := st.ItemsBySeller()
	sellerIDs := make([]string, 0, len(groups))
	for id := range groups {
		sellerIDs = append(sellerIDs, id)
	}
	sort.Strings(sellerIDs)

	resp := SellersResponseDTO{SessionID: sessionID, Sellers: []checkout.SellerOrder{}}
	for _, id := range sellerIDs {
		resp.Sellers = append(resp.Sellers, checkout.SellerGroup(id, groups[id]))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *CartHandler) open(w http.ResponseWriter, r *http.Request) (string, *store.Store, bool) {
	sessionID := getSessionID(r.Context())
	if sessionID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing cart session")
		return "", nil, false
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	st, err := h.carts.Open(ctx, sessionID)
	if err != nil {
		h.log.Error("open cart failed", zap.String("session_id", sessionID), zap.Error(err))
		handleCartError(w, err)
		return "", nil, false
	}
	return sessionID, st, true
}

func (h *CartHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

func cartResponse(sessionID string, items []domain.LineItem) CartResponseDTO {
	resp := CartResponseDTO{
		SessionID:  sessionID,
		Items:      items,
		TotalPrice: decimal.Zero,
	}
	if resp.Items == nil {
		resp.Items = []domain.LineItem{}
	}
	for _, item := range items {
		resp.TotalItems += item.Quantity
		resp.TotalPrice = resp.TotalPrice.Add(item.Subtotal())
	}
	return resp
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// headers are already sent, nothing useful left to report
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func handleCartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.Is(err, store.ErrInvalidItem):
		respondError(w, http.StatusBadRequest, "invalid_item", err.Error())
	case errors.Is(err, checkout.ErrEmptyCart):
		respondError(w, http.StatusBadRequest, "empty_cart", err.Error())
	case errors.Is(err, service.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, "service_unavailable", "cart service is shutting down")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
