package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rl1809/pos-ledger/internal/core/domain"
	"github.com/rl1809/pos-ledger/internal/core/service"
)

const (
	idempotencyHeader = "Idempotency-Key"
	maxBodyBytes      = 1 << 20
)

type ctxKey int

const userCtxKey ctxKey = iota

type HTTPHandler struct {
	transactions *service.TransactionService
	catalog      *service.CatalogService
	reports      *service.ReportService
	auth         *service.AuthService
	logger       *slog.Logger
}

func NewHTTPHandler(
	transactions *service.TransactionService,
	catalog *service.CatalogService,
	reports *service.ReportService,
	auth *service.AuthService,
	logger *slog.Logger,
) *HTTPHandler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HTTPHandler{
		transactions: transactions,
		catalog:      catalog,
		reports:      reports,
		auth:         auth,
		logger:       logger,
	}
}

func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)
	r.Post("/api/auth/login", h.Login)

	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)

		r.Route("/api/items", func(r chi.Router) {
			r.Get("/", h.ListItems)
			r.Post("/", h.CreateItem)
			r.Get("/{id}", h.GetItem)
			r.Put("/{id}", h.UpdateItem)
			r.Delete("/{id}", h.DeleteItem)
		})

		r.Route("/api/transactions", func(r chi.Router) {
			r.Get("/", h.ListTransactions)
			r.Post("/", h.CreateTransaction)
			r.Get("/{id}", h.GetTransaction)
			r.Delete("/{id}", h.DeleteTransaction)
		})

		r.Get("/api/reports/summary", h.Summary)
	})

	return r
}

// RequireAuth accepts "Authorization: Bearer <token>" and stores the
// username in the request context.
func (h *HTTPHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if header == "" || token == header {
			writeMessage(w, http.StatusUnauthorized, "authorization header must be 'Bearer <token>'")
			return
		}
		username, err := h.auth.Verify(token)
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userCtxKey, username)))
	})
}

func (h *HTTPHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	token, err := h.auth.Login(r.Context(), clientKey(r), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			writeMessage(w, http.StatusUnauthorized, "invalid username or password")
		case errors.Is(err, service.ErrRateLimited):
			writeMessage(w, http.StatusTooManyRequests, "too many requests")
		default:
			h.writeError(w, r, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, LoginHTTPResponse{Token: token})
}

func (h *HTTPHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.catalog.ListItems(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]ItemHTTPResponse, 0, len(items))
	for _, it := range items {
		resp = append(resp, newItemResponse(it))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.catalog.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newItemResponse(*item))
}

func (h *HTTPHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req ItemHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.catalog.CreateItem(r.Context(), req.toDomain(""))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, MessageHTTPResponse{Message: "item added successfully", ID: item.ID})
}

func (h *HTTPHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req ItemHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	item, err := h.catalog.UpdateItem(r.Context(), req.toDomain(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newItemResponse(*item))
}

func (h *HTTPHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteItem(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "item deleted successfully")
}

func (h *HTTPHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.transactions.ListTransactions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := make([]TransactionHTTPResponse, 0, len(txs))
	for _, t := range txs {
		resp = append(resp, newTransactionResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.transactions.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionResponse(*tx))
}

func (h *HTTPHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := service.CreateTransactionInput{
		CustomerName:   req.CustomerName,
		InvoiceID:      req.InvoiceID,
		IdempotencyKey: r.Header.Get(idempotencyHeader),
	}
	for _, it := range req.Items {
		in.Lines = append(in.Lines, service.LineInput{ItemID: it.ID, Quantity: it.Quantity})
	}

	id, err := h.transactions.CreateTransaction(r.Context(), in)
	if err != nil {
		// An unknown item on create is a problem with the request body, not
		// with the URL.
		if errors.Is(err, domain.ErrItemNotFound) {
			writeMessage(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, MessageHTTPResponse{Message: "transaction created successfully", ID: id})
}

func (h *HTTPHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := h.transactions.DeleteTransaction(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "transaction deleted and stock restored successfully")
}

func (h *HTTPHandler) Summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.reports.Summary(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSummaryResponse(sum))
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := httpStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"user", usernameFrom(r.Context()),
			"error", err,
		)
	}
	writeMessage(w, status, message)
}

func httpStatus(err error) (int, string) {
	var insufficient *domain.InsufficientStockError
	var invalid *domain.ValidationError
	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest, invalid.Error()
	case errors.As(err, &insufficient):
		return http.StatusConflict, insufficient.Error()
	case errors.Is(err, service.ErrDuplicateRequest):
		return http.StatusConflict, "duplicate request"
	case errors.Is(err, domain.ErrDuplicateCode):
		return http.StatusConflict, "item code already exists"
	case errors.Is(err, domain.ErrItemNotFound):
		return http.StatusNotFound, "item not found"
	case errors.Is(err, domain.ErrTransactionNotFound):
		return http.StatusNotFound, "transaction not found"
	case errors.Is(err, domain.ErrStorage),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "temporarily unavailable, please retry"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func usernameFrom(ctx context.Context) string {
	username, _ := ctx.Value(userCtxKey).(string)
	return username
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, MessageHTTPResponse{Message: message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
