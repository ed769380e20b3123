package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-inventory-orders/internal/catalog"
	"github.com/ariefcatur/go-inventory-orders/internal/orders"
	"github.com/ariefcatur/go-inventory-orders/internal/redisx"
)

var errInvalidJSON = errors.New("invalid json")

type errorBody struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlationId,omitempty"`
	ProductID     string `json:"productId,omitempty"`
	Available     *int   `json:"available,omitempty"`
	Requested     *int   `json:"requested,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes. Anything unrecognised is
// logged and answered with a generic 500 carrying the correlation id.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var stock *orders.InsufficientStockError
	switch {
	case errors.As(err, &stock):
		writeJSON(w, http.StatusConflict, errorBody{
			Error:     err.Error(),
			ProductID: stock.ProductID,
			Available: &stock.Available,
			Requested: &stock.Requested,
		})
	case errors.Is(err, errInvalidJSON), orders.IsValidation(err), catalog.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, orders.ErrProductNotFound), errors.Is(err, orders.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, orders.ErrConcurrencyExhausted):
		writeJSON(w, http.StatusConflict, errorBody{Error: orders.ErrConcurrencyExhausted.Error()})
	case errors.Is(err, orders.ErrConcurrencyConflict),
		errors.Is(err, orders.ErrProductExists),
		errors.Is(err, redisx.ErrRequestInFlight):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	default:
		id := middleware.GetReqID(r.Context())
		logger.Error("Unhandled request error",
			zap.Error(err), zap.String("correlation_id", id), zap.String("path", r.URL.Path))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error", CorrelationID: id})
	}
}
