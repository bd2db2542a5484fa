// Package handler exposes the order, download and admin REST API.
package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/ghostmarket/internal/domain/auth"
	"github.com/xenking/ghostmarket/internal/domain/download"
	"github.com/xenking/ghostmarket/internal/domain/order"
)

const maxBodyBytes = 1 << 20

// OrderService is the order fulfillment engine as used by the API.
type OrderService interface {
	CreateOrder(ctx context.Context, req order.CreateOrderRequest) (*order.Order, error)
	GetOrder(ctx context.Context, id string) (*order.Order, error)
	ListByCustomer(ctx context.Context, email string) ([]order.Order, error)
	ListRecent(ctx context.Context, limit int) ([]order.Order, error)
	UpdateStatus(ctx context.Context, id, status string) (*order.Order, error)
	DashboardStats(ctx context.Context) (*order.Stats, error)
}

// DownloadGate redeems download tokens and re-issues links.
type DownloadGate interface {
	Download(ctx context.Context, token, pathProductID string) (*download.File, error)
	Link(ctx context.Context, orderID, productID string) (*download.Link, error)
}

// TokenVerifier authenticates bearer tokens.
type TokenVerifier interface {
	Verify(raw string) (*auth.Principal, error)
}

// Config holds non-dependency settings.
type Config struct {
	// DefaultListLimit applies to GET /api/orders without a limit.
	DefaultListLimit int
	// MaxListLimit caps the limit query parameter.
	MaxListLimit int
}

// Handler serves the API.
type Handler struct {
	orders   OrderService
	gate     DownloadGate
	verifier TokenVerifier
	cfg      Config
}

// New constructs a Handler with the required domain dependencies.
func New(cfg Config, orders OrderService, gate DownloadGate, verifier TokenVerifier) *Handler {
	if cfg.DefaultListLimit <= 0 {
		cfg.DefaultListLimit = 20
	}
	if cfg.MaxListLimit < cfg.DefaultListLimit {
		cfg.MaxListLimit = 100
	}
	return &Handler{
		orders:   orders,
		gate:     gate,
		verifier: verifier,
		cfg:      cfg,
	}
}

// Register mounts all API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("POST /api/orders", h.authenticated(h.createOrder))
	mux.Handle("GET /api/orders", h.admin(h.listOrders))
	mux.Handle("GET /api/orders/{id}", h.authenticated(h.getOrder))
	mux.Handle("PATCH /api/orders/{id}/status", h.admin(h.updateStatus))
	mux.Handle("GET /api/orders/{id}/download/{productId}", h.authenticated(h.downloadLink))
	mux.Handle("GET /api/customers/{email}/orders", h.authenticated(h.customerOrders))
	mux.Handle("GET /api/admin/stats", h.admin(h.stats))

	mux.HandleFunc("GET /api/download", h.secureDownload)
	mux.HandleFunc("GET /api/download/secure/{productId}", h.secureDownload)
}

func writeJSON(w http.ResponseWriter, code int, v encoder) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	v.Encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, &errorResponse{Code: code, Message: msg})
}

// writeInternal logs err and answers 500 without leaking details.
func writeInternal(ctx context.Context, w http.ResponseWriter, err error) {
	zctx.From(ctx).Error("Request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// decodeJSON reads a single JSON value from r into v. The body is capped at
// maxBodyBytes and trailing data is rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v decoder) error {
	buf, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	d := jx.DecodeBytes(buf)
	if err := v.Decode(d); err != nil {
		return errors.Wrap(err, "decode body")
	}
	if d.Next() != jx.Invalid {
		return errors.New("body must contain a single JSON object")
	}
	return nil
}
