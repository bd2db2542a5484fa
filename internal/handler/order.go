package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/ghostmarket/internal/domain/auth"
	"github.com/xenking/ghostmarket/internal/domain/order"
)

func toOrderResponse(o *order.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemResponse{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Price:       it.Price.StringFixed(2),
			Quantity:    it.Quantity,
		}
	}
	return orderResponse{
		ID:            o.ID,
		CustomerEmail: o.CustomerEmail,
		TotalAmount:   o.TotalAmount.StringFixed(2),
		LicenseKey:    o.LicenseKey,
		Status:        string(o.Status),
		CreatedAt:     o.CreatedAt,
		Items:         items,
	}
}

func toOrderList(orders []order.Order) orderList {
	out := make(orderList, len(orders))
	for i := range orders {
		out[i] = toOrderResponse(&orders[i])
	}
	return out
}

// createOrder places an order. Customers order for their own email; admins
// may order on behalf of anyone.
func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := auth.FromContext(ctx)

	var req createOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CustomerEmail == "" {
		req.CustomerEmail = p.Email
	}
	if !p.CanAccess(req.CustomerEmail) {
		writeError(w, http.StatusForbidden, "cannot order on behalf of another customer")
		return
	}

	items := make([]order.ItemRequest, len(req.Items))
	for i, it := range req.Items {
		items[i] = order.ItemRequest{ProductID: it.ProductID, Quantity: it.Quantity}
	}

	o, err := h.orders.CreateOrder(ctx, order.CreateOrderRequest{
		CustomerEmail: req.CustomerEmail,
		Items:         items,
	})
	if err != nil {
		h.orderError(w, r, err)
		return
	}
	resp := toOrderResponse(o)
	writeJSON(w, http.StatusCreated, &resp)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, ok := h.ownedOrder(w, r)
	if !ok {
		return
	}
	resp := toOrderResponse(o)
	writeJSON(w, http.StatusOK, &resp)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit := h.cfg.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, h.cfg.MaxListLimit)
	}

	orders, err := h.orders.ListRecent(r.Context(), limit)
	if err != nil {
		h.orderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderList(orders))
}

func (h *Handler) customerOrders(w http.ResponseWriter, r *http.Request) {
	email := r.PathValue("email")
	if !auth.FromContext(r.Context()).CanAccess(email) {
		writeError(w, http.StatusForbidden, "cannot view another customer's orders")
		return
	}
	orders, err := h.orders.ListByCustomer(r.Context(), email)
	if err != nil {
		h.orderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderList(orders))
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, err := h.orders.UpdateStatus(r.Context(), r.PathValue("id"), strings.TrimSpace(req.Status))
	if err != nil {
		h.orderError(w, r, err)
		return
	}
	resp := toOrderResponse(o)
	writeJSON(w, http.StatusOK, &resp)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.orders.DashboardStats(r.Context())
	if err != nil {
		h.orderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &statsResponse{
		TotalRevenue: s.TotalRevenue.StringFixed(2),
		TotalOrders:  s.TotalOrders,
		RecentOrders: toOrderList(s.RecentOrders),
	})
}

// ownedOrder loads the {id} order and hides it from callers who neither own
// it nor are admins.
func (h *Handler) ownedOrder(w http.ResponseWriter, r *http.Request) (*order.Order, bool) {
	o, err := h.orders.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		h.orderError(w, r, err)
		return nil, false
	}
	if !auth.FromContext(r.Context()).CanAccess(o.CustomerEmail) {
		writeError(w, http.StatusNotFound, order.ErrNotFound.Error())
		return nil, false
	}
	return o, true
}

// orderError maps order domain errors to responses.
func (h *Handler) orderError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		pnfErr *order.ProductNotFoundError
		iqErr  *order.InvalidQuantityError
		vErr   *order.ValidationError
	)
	switch {
	case errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrInvalidEmail),
		errors.Is(err, order.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, rootMessage(err))
	case errors.As(err, &iqErr):
		writeError(w, http.StatusBadRequest, iqErr.Error())
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.As(err, &pnfErr):
		writeError(w, http.StatusNotFound, pnfErr.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, order.ErrNotFound.Error())
	case errors.Is(err, order.ErrStatusConflict):
		writeError(w, http.StatusConflict, order.ErrStatusConflict.Error())
	default:
		writeInternal(r.Context(), w, err)
	}
}

// rootMessage strips wrapping context from a sentinel's message.
func rootMessage(err error) string {
	for _, sentinel := range []error{order.ErrEmptyItems, order.ErrInvalidEmail, order.ErrInvalidStatus} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
