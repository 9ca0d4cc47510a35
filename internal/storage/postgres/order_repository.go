package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vladislavdragonenkov/dds/internal/domain"
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

const orderColumns = `
	id, customer_id, status, payment_status, partner_email, amount_minor,
	address_line1, address_line2, address_city, address_postal_code,
	address_lat, address_lng, version, created_at, updated_at
`

func (r *orderRepository) Create(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapInfra("begin tx", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	lat, lng := geoToNull(order.Address.Location)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`,
		order.ID, order.CustomerID, string(order.Status), string(order.PaymentStatus),
		order.PartnerID, order.AmountMinor,
		order.Address.Line1, order.Address.Line2, order.Address.City, order.Address.PostalCode,
		lat, lng, order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderVersionConflict
		}
		return wrapInfra("insert order", err)
	}

	for i, item := range order.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, position, product_id, name, qty, price_minor)
			VALUES ($1,$2,$3,$4,$5,$6)
		`,
			order.ID, i, item.ProductID, item.Name, item.Qty, item.PriceMinor,
		); err != nil {
			return wrapInfra("insert order item", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return wrapInfra("commit create order", err)
	}

	return nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id)

	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, wrapInfra("select order", err)
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

func (r *orderRepository) ListByCustomer(customerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", customerID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, customerID)
	}
	if err != nil {
		return nil, wrapInfra("list orders", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, wrapInfra("scan order row", err)
		}
		items, err := r.loadItems(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		order.Items = items
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapInfra("iterate order rows", err)
	}

	return orders, nil
}

func (r *orderRepository) Save(order domain.Order) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	lat, lng := geoToNull(order.Address.Location)
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    payment_status = $2,
		    partner_email = $3,
		    amount_minor = $4,
		    address_line1 = $5,
		    address_line2 = $6,
		    address_city = $7,
		    address_postal_code = $8,
		    address_lat = $9,
		    address_lng = $10,
		    version = version + 1,
		    updated_at = $11
		WHERE id = $12
		  AND version = $13
	`,
		string(order.Status), string(order.PaymentStatus), order.PartnerID,
		order.AmountMinor,
		order.Address.Line1, order.Address.Line2, order.Address.City, order.Address.PostalCode,
		lat, lng, order.UpdatedAt, order.ID, order.Version,
	)
	if err != nil {
		return wrapInfra("update order", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return wrapInfra("rows affected", err)
	}
	if affected == 0 {
		exists, err := r.orderExists(ctx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}

	return nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, name, qty, price_minor
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, wrapInfra("load order items", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Qty, &item.PriceMinor); err != nil {
			return nil, wrapInfra("scan order item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapInfra("iterate order items", err)
	}

	return items, nil
}

func (r *orderRepository) orderExists(ctx context.Context, orderID string) (bool, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, wrapInfra("check order exists", err)
}

// rowScanner покрывает *sql.Row и *sql.Rows одним сканером.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order         domain.Order
		status        string
		paymentStatus string
		lat, lng      sql.NullFloat64
	)
	if err := row.Scan(
		&order.ID, &order.CustomerID, &status, &paymentStatus,
		&order.PartnerID, &order.AmountMinor,
		&order.Address.Line1, &order.Address.Line2, &order.Address.City, &order.Address.PostalCode,
		&lat, &lng, &order.Version, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	order.Address.Location = geoFromNull(lat, lng)
	return order, nil
}

func geoToNull(point *domain.GeoPoint) (sql.NullFloat64, sql.NullFloat64) {
	if point == nil {
		return sql.NullFloat64{}, sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: point.Lat, Valid: true},
		sql.NullFloat64{Float64: point.Lng, Valid: true}
}

func geoFromNull(lat, lng sql.NullFloat64) *domain.GeoPoint {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &domain.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
}

var _ domain.OrderRepository = (*orderRepository)(nil)
