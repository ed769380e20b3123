package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-inventory-orders/internal/orders"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type OrderService interface {
	CreateOrder(ctx context.Context, ownerID string, req orders.CreateOrderRequest) (*orders.Order, error)
	GetOrder(ctx context.Context, ownerID, orderID string) (*orders.Order, error)
	ListOrders(ctx context.Context, ownerID string) ([]orders.Order, error)
	GetStatus(ctx context.Context, ownerID, orderID string) (*orders.StatusView, error)
}

// IdempotencyStore is satisfied by *redisx.Idempotency.
type IdempotencyStore interface {
	Claim(ctx context.Context, ownerID, key string) (orderID string, claimed bool, err error)
	Complete(ctx context.Context, ownerID, key, orderID string) error
	Release(ctx context.Context, ownerID, key string) error
}

type OrdersHandler struct {
	Service     OrderService
	Idempotency IdempotencyStore // optional
	Logger      *zap.Logger
}

type orderItemResp struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	TotalPrice  decimal.Decimal `json:"totalPrice"`
}

type orderResp struct {
	ID             string               `json:"id"`
	OwnerID        string               `json:"ownerId"`
	Items          []orderItemResp      `json:"items"`
	TotalAmount    decimal.Decimal      `json:"totalAmount"`
	DiscountAmount decimal.Decimal      `json:"discountAmount"`
	FinalAmount    decimal.Decimal      `json:"finalAmount"`
	Status         orders.Status        `json:"status"`
	PaymentStatus  orders.PaymentStatus `json:"paymentStatus"`
	CreatedAt      time.Time            `json:"createdAt"`
}

func toOrderResp(o *orders.Order) orderResp {
	items := make([]orderItemResp, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResp{
			ID:          it.ID,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			TotalPrice:  it.TotalPrice,
		})
	}
	return orderResp{
		ID:             o.ID,
		OwnerID:        o.OwnerID,
		Items:          items,
		TotalAmount:    o.TotalAmount,
		DiscountAmount: o.DiscountAmount,
		FinalAmount:    o.FinalAmount,
		Status:         o.Status,
		PaymentStatus:  o.PaymentStatus,
		CreatedAt:      o.CreatedAt,
	}
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Use(requireOwner)
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.getOrder)
		r.Get("/{id}/status", h.getStatus)
	})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, h.Logger, errInvalidJSON)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	owner := ownerID(r)
	key := r.Header.Get(HeaderIdempotencyKey)
	if key != "" && h.Idempotency != nil {
		existing, claimed, err := h.Idempotency.Claim(ctx, owner, key)
		if err != nil {
			writeError(w, r, h.Logger, err)
			return
		}
		if !claimed {
			o, err := h.Service.GetOrder(ctx, owner, existing)
			if err != nil {
				writeError(w, r, h.Logger, err)
				return
			}
			w.Header().Set("Idempotent-Replayed", "true")
			writeJSON(w, http.StatusOK, toOrderResp(o))
			return
		}
	} else {
		key = ""
	}

	o, err := h.Service.CreateOrder(ctx, owner, req)
	if err != nil {
		if key != "" {
			if rerr := h.Idempotency.Release(context.WithoutCancel(ctx), owner, key); rerr != nil {
				h.Logger.Warn("Failed to release idempotency key", zap.String("key", key), zap.Error(rerr))
			}
		}
		writeError(w, r, h.Logger, err)
		return
	}
	if key != "" {
		if err := h.Idempotency.Complete(ctx, owner, key, o.ID); err != nil {
			h.Logger.Warn("Failed to store idempotency key", zap.String("key", key), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusCreated, toOrderResp(o))
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Service.ListOrders(ctx, ownerID(r))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	out := make([]orderResp, 0, len(list))
	for i := range list {
		out = append(out, toOrderResp(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Service.GetOrder(ctx, ownerID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResp(o))
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	v, err := h.Service.GetStatus(ctx, ownerID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
