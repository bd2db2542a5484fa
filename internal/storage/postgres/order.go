package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/ghostmarket/internal/domain/order"
)

const (
	orderColumns = `id, customer_email, total_amount, license_key, status::text, created_at`

	insertOrderSQL = `INSERT INTO orders (id, customer_email, total_amount, license_key, status, created_at)
		VALUES ($1, $2, $3, $4, $5::order_status, $6)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersByCustomerSQL = `SELECT ` + orderColumns + `
		FROM orders WHERE customer_email = $1 ORDER BY created_at DESC, id`

	listRecentOrdersSQL = `SELECT ` + orderColumns + `
		FROM orders ORDER BY created_at DESC, id LIMIT $1`

	listItemsSQL = `SELECT i.order_id, i.product_id, p.name, i.price, i.quantity
		FROM order_items i JOIN products p ON p.id = i.product_id
		WHERE i.order_id = ANY($1)
		ORDER BY i.order_id, i.position`

	lockStatusSQL = `SELECT status::text FROM orders WHERE id = $1 FOR UPDATE`

	setStatusSQL = `UPDATE orders SET status = $2::order_status WHERE id = $1`

	statsSQL = `SELECT
			COALESCE(SUM(total_amount) FILTER (WHERE status = 'PAID'), 0),
			COUNT(*)
		FROM orders`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order header and its items in one transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertOrderSQL,
			o.ID, o.CustomerEmail, o.TotalAmount, o.LicenseKey, string(o.Status), o.CreatedAt,
		); err != nil {
			if isLicenseKeyConflict(err) {
				return order.ErrDuplicateLicenseKey
			}
			return errors.Wrap(err, "insert order")
		}

		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"order_items"},
			[]string{"order_id", "position", "product_id", "price", "quantity"},
			pgx.CopyFromSlice(len(o.Items), func(i int) ([]any, error) {
				it := o.Items[i]
				return []any{o.ID, i, it.ProductID, it.Price, it.Quantity}, nil
			}),
		)
		if err != nil {
			return errors.Wrap(err, "insert order items")
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "create order %q", o.ID)
	}
	return nil
}

const (
	uniqueViolation      = "23505"
	licenseKeyConstraint = "orders_license_key_key"
)

func isLicenseKeyConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == uniqueViolation &&
		pgErr.ConstraintName == licenseKeyConstraint
}

// FindByID returns the order with its items, or order.ErrNotFound.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", id)
	}

	orders := []order.Order{o}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// UpdateStatus moves a PENDING order to status under a row lock. Setting the
// current status again is a no-op.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status order.Status) (order.Status, error) {
	var prev order.Status
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var current string
		if err := tx.QueryRow(ctx, lockStatusSQL, id).Scan(&current); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return order.ErrNotFound
			}
			return errors.Wrap(err, "lock order")
		}
		prev = order.Status(current)

		switch {
		case prev == status:
			return nil
		case prev != order.StatusPending:
			return order.ErrStatusConflict
		}
		if _, err := tx.Exec(ctx, setStatusSQL, id, string(status)); err != nil {
			return errors.Wrap(err, "set status")
		}
		return nil
	})
	if err != nil {
		return prev, err
	}
	return prev, nil
}

// ListByCustomer returns every order placed with email, newest first.
func (r *OrderRepository) ListByCustomer(ctx context.Context, email string) ([]order.Order, error) {
	return r.list(ctx, listOrdersByCustomerSQL, email)
}

// ListRecent returns up to limit orders, newest first.
func (r *OrderRepository) ListRecent(ctx context.Context, limit int) ([]order.Order, error) {
	return r.list(ctx, listRecentOrdersSQL, limit)
}

// Stats aggregates revenue over PAID orders, the total order count and the
// most recent orders.
func (r *OrderRepository) Stats(ctx context.Context, recent int) (*order.Stats, error) {
	var (
		revenue decimal.Decimal
		count   int
	)
	if err := r.pool.QueryRow(ctx, statsSQL).Scan(&revenue, &count); err != nil {
		return nil, errors.Wrap(err, "aggregate orders")
	}

	latest, err := r.ListRecent(ctx, recent)
	if err != nil {
		return nil, err
	}
	return &order.Stats{
		TotalRevenue: revenue,
		TotalOrders:  count,
		RecentOrders: latest,
	}, nil
}

func (r *OrderRepository) list(ctx context.Context, sql string, arg any) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, errors.Wrap(err, "scan orders")
	}
	if err := r.attachItems(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// attachItems loads the items of all orders with a single query.
func (r *OrderRepository) attachItems(ctx context.Context, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		index[orders[i].ID] = i
	}

	rows, err := r.pool.Query(ctx, listItemsSQL, ids)
	if err != nil {
		return errors.Wrap(err, "list order items")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			it      order.OrderItem
		)
		if err := rows.Scan(&orderID, &it.ProductID, &it.ProductName, &it.Price, &it.Quantity); err != nil {
			return errors.Wrap(err, "scan order item")
		}
		if i, ok := index[orderID]; ok {
			orders[i].Items = append(orders[i].Items, it)
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "list order items")
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(&o.ID, &o.CustomerEmail, &o.TotalAmount, &o.LicenseKey, &status, &o.CreatedAt)
	o.Status = order.Status(status)
	return o, err
}
