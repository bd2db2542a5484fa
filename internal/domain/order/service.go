package order

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/ghostmarket/internal/domain/delivery"
	"github.com/xenking/ghostmarket/internal/domain/license"
	"github.com/xenking/ghostmarket/internal/domain/product"
)

const (
	defaultEnqueueTimeout = 10 * time.Second
	dashboardRecentOrders = 5
	licenseKeyAttempts    = 3
)

// CreateOrderRequest holds the client input for a purchase. Any client-side
// total is deliberately absent.
type CreateOrderRequest struct {
	CustomerEmail string
	Items         []ItemRequest
}

// ItemRequest is one requested line.
type ItemRequest struct {
	ProductID string `validate:"required"`
	Quantity  int    `validate:"gte=1"`
}

// LinkIssuer mints a signed download URL for a product in an order.
type LinkIssuer interface {
	DownloadURL(orderID, productID string) (string, error)
}

// KeyGenerator produces license keys.
type KeyGenerator interface {
	Generate() (string, error)
}

// Event describes an order status change for downstream consumers.
type Event struct {
	Type        string
	OrderID     string
	Status      Status
	TotalAmount decimal.Decimal
	At          time.Time
}

// EventPublisher forwards order events. Publishing is best-effort.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

// StatsCache caches dashboard aggregates.
type StatsCache interface {
	Get(ctx context.Context) (*Stats, bool, error)
	Set(ctx context.Context, s *Stats) error
	Invalidate(ctx context.Context) error
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithLicenseGenerator overrides the default license key generator.
func WithLicenseGenerator(g KeyGenerator) Option {
	return func(s *Service) { s.licenses = g }
}

// WithEvents publishes order status changes through p.
func WithEvents(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// WithStatsCache caches dashboard stats in c.
func WithStatsCache(c StatsCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithEnqueueTimeout bounds each background delivery submission.
func WithEnqueueTimeout(d time.Duration) Option {
	return func(s *Service) { s.enqueueTimeout = d }
}

// Service is the order fulfillment engine: it prices, persists and pays for
// orders, then hands delivery off to the job queue.
type Service struct {
	products product.Repository
	orders   Repository
	payments PaymentGateway
	links    LinkIssuer
	jobs     delivery.Queue

	licenses       KeyGenerator
	events         EventPublisher
	cache          StatsCache
	enqueueTimeout time.Duration

	validate *validator.Validate
	now      func() time.Time

	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	products product.Repository,
	orders Repository,
	payments PaymentGateway,
	links LinkIssuer,
	jobs delivery.Queue,
	opts ...Option,
) *Service {
	s := &Service{
		products:       products,
		orders:         orders,
		payments:       payments,
		links:          links,
		jobs:           jobs,
		enqueueTimeout: defaultEnqueueTimeout,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		now:            time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.licenses == nil {
		s.licenses = license.NewGenerator(1 << 20)
	}
	return s
}

// CreateOrder validates and prices the request, persists the order as
// PENDING, confirms payment and, once PAID, submits one delivery job per
// distinct product. Delivery submission runs in the background; use Wait to
// drain it.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	req.CustomerEmail = normalizeEmail(req.CustomerEmail)
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	// Batch fetch all distinct products in a single query.
	ids := make([]string, 0, len(req.Items))
	seen := make(map[string]struct{}, len(req.Items))
	for _, item := range req.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	catalog := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		catalog[p.ID] = p
	}

	// Price every line from the catalog; no partial orders.
	items := make([]OrderItem, len(req.Items))
	total := decimal.Zero
	for i, item := range req.Items {
		p, ok := catalog[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		items[i] = OrderItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			Price:       p.Price,
			Quantity:    item.Quantity,
		}
		total = total.Add(p.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	o := &Order{
		ID:            uuid.New().String(),
		CustomerEmail: req.CustomerEmail,
		TotalAmount:   total,
		Status:        StatusPending,
		Items:         items,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.persist(ctx, o); err != nil {
		return nil, err
	}

	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))
	lg.Info("Order created", zap.String("total", total.StringFixed(2)), zap.Int("items", len(items)))

	// From here on the order exists regardless of what happens next.
	status := StatusPaid
	if err := s.payments.Charge(ctx, o); err != nil {
		lg.Warn("Payment failed", zap.Error(err))
		status = StatusFailed
	}
	if _, err := s.orders.UpdateStatus(ctx, o.ID, status); err != nil {
		return nil, errors.Wrapf(err, "mark order %s", status)
	}
	s.invalidateStats(ctx)
	s.statusChanged(ctx, o.ID, status, total)

	if status == StatusFailed {
		o.Status = StatusFailed
		return o, nil
	}

	completed, err := s.orders.FindByID(ctx, o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "reload order")
	}
	s.deliver(ctx, completed)

	return completed, nil
}

// persist stores o under a fresh license key, drawing a new one when the store
// reports the key as taken.
func (s *Service) persist(ctx context.Context, o *Order) error {
	for attempt := 1; ; attempt++ {
		key, err := s.licenses.Generate()
		if err != nil {
			return errors.Wrap(err, "generate license key")
		}
		o.LicenseKey = key

		err = s.orders.Create(ctx, o)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicateLicenseKey) || attempt == licenseKeyAttempts {
			return errors.Wrap(err, "create order")
		}
		zctx.From(ctx).Warn("License key collision, regenerating",
			zap.String("order_id", o.ID),
			zap.Int("attempt", attempt),
		)
	}
}

// normalizeEmail folds addresses to one stored form so lookups match the
// case-insensitive ownership check.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) validateRequest(req CreateOrderRequest) error {
	if err := s.validate.Var(req.CustomerEmail, "required,email"); err != nil {
		return ErrInvalidEmail
	}
	if len(req.Items) == 0 {
		return ErrEmptyItems
	}
	for i, item := range req.Items {
		err := s.validate.Struct(item)
		if err == nil {
			continue
		}
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			if fieldErrs[0].StructField() == "Quantity" {
				return &InvalidQuantityError{ProductID: item.ProductID}
			}
			return &ValidationError{
				Field:  "items[" + strconv.Itoa(i) + "].productId",
				Reason: fieldErrs[0].Tag(),
			}
		}
		return errors.Wrap(err, "validate item")
	}
	return nil
}

// deliver submits one send-link job per distinct product without blocking the
// caller. Failures are logged; the order stays PAID and the purchaser can
// request a fresh link later.
func (s *Service) deliver(ctx context.Context, o *Order) {
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))
	bg := context.WithoutCancel(ctx)

	seen := make(map[string]struct{}, len(o.Items))
	for _, item := range o.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}

		link, err := s.links.DownloadURL(o.ID, item.ProductID)
		if err != nil {
			lg.Error("Failed to mint download link", zap.String("product_id", item.ProductID), zap.Error(err))
			continue
		}
		productID := item.ProductID
		payload := delivery.SendLink{
			RecipientEmail: o.CustomerEmail,
			DownloadLink:   link,
			OrderID:        o.ID,
			ProductTitle:   item.ProductName,
			LicenseKey:     o.LicenseKey,
		}

		if !s.submit(func() {
			ctx, cancel := context.WithTimeout(bg, s.enqueueTimeout)
			defer cancel()
			if err := s.jobs.Enqueue(ctx, delivery.JobSendLink, payload); err != nil {
				lg.Error("Failed to enqueue delivery job",
					zap.String("product_id", productID),
					zap.Error(err),
				)
			}
		}) {
			lg.Error("Delivery job not submitted, service is closed",
				zap.String("product_id", productID),
			)
		}
	}
}

// submit runs fn in the background unless the service has been closed.
func (s *Service) submit(fn func()) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	s.pending.Go(fn)
	return true
}

// Wait blocks until all background delivery submissions started so far have
// finished. It does not stop new submissions; use Close for shutdown.
func (s *Service) Wait() {
	s.pending.Wait()
}

// Close stops accepting delivery submissions and waits for the ones in flight.
// Orders paid after Close stay PAID without a queued delivery and are logged.
// Close is safe to call while requests are still being served.
func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.pending.Wait()
}

// GetOrder returns a single order with its items.
func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "find order")
	}
	return o, nil
}

// ListByCustomer returns the orders placed with email, newest first. The
// address is matched case-insensitively.
func (s *Service) ListByCustomer(ctx context.Context, email string) ([]Order, error) {
	email = normalizeEmail(email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, ErrInvalidEmail
	}
	orders, err := s.orders.ListByCustomer(ctx, email)
	if err != nil {
		return nil, errors.Wrap(err, "list customer orders")
	}
	return orders, nil
}

// ListRecent returns up to limit orders, newest first.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]Order, error) {
	orders, err := s.orders.ListRecent(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list recent orders")
	}
	return orders, nil
}

// UpdateStatus is the payment callback entry point. It is idempotent: setting
// the current status again succeeds. A PENDING order that becomes PAID here
// gets its delivery jobs submitted.
func (s *Service) UpdateStatus(ctx context.Context, id, status string) (*Order, error) {
	st, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}

	prev, err := s.orders.UpdateStatus(ctx, id, st)
	if err != nil {
		return nil, errors.Wrap(err, "update status")
	}

	o, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "reload order")
	}
	if prev == st {
		return o, nil
	}

	zctx.From(ctx).Info("Order status updated",
		zap.String("order_id", id),
		zap.String("from", string(prev)),
		zap.String("to", string(st)),
	)
	s.invalidateStats(ctx)
	s.statusChanged(ctx, id, st, o.TotalAmount)
	if st == StatusPaid {
		s.deliver(ctx, o)
	}
	return o, nil
}

// DashboardStats returns order count, revenue over PAID orders and the most
// recent orders.
func (s *Service) DashboardStats(ctx context.Context) (*Stats, error) {
	lg := zctx.From(ctx)
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx)
		if err != nil {
			lg.Warn("Stats cache read failed", zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}

	stats, err := s.orders.Stats(ctx, dashboardRecentOrders)
	if err != nil {
		return nil, errors.Wrap(err, "aggregate stats")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, stats); err != nil {
			lg.Warn("Stats cache write failed", zap.Error(err))
		}
	}
	return stats, nil
}

func (s *Service) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		zctx.From(ctx).Warn("Stats cache invalidation failed", zap.Error(err))
	}
}

func (s *Service) statusChanged(ctx context.Context, id string, st Status, total decimal.Decimal) {
	if s.events == nil {
		return
	}
	e := Event{
		Type:        "order." + strings.ToLower(string(st)),
		OrderID:     id,
		Status:      st,
		TotalAmount: total,
		At:          s.now().UTC(),
	}
	if err := s.events.Publish(ctx, e); err != nil {
		zctx.From(ctx).Warn("Order event not published",
			zap.String("order_id", id),
			zap.String("event", e.Type),
			zap.Error(err),
		)
	}
}
