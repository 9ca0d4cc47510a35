package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/dds/internal/domain"
)

type dispatchOrderRepository struct {
	db *sql.DB
}

// NewDispatchOrderRepository создаёт PostgreSQL-реализацию зеркального
// хранилища заказов dispatch-service.
func NewDispatchOrderRepository(store *Store) domain.DispatchOrderRepository {
	return &dispatchOrderRepository{db: store.DB()}
}

const dispatchOrderColumns = `
	id, customer_id, status, payment_status, partner_email, amount_minor,
	address_line1, address_line2, address_city, address_postal_code,
	address_lat, address_lng, items, created_at, updated_at
`

func (r *dispatchOrderRepository) Register(order domain.Order) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return false, wrapInfra("marshal order items", err)
	}

	lat, lng := geoToNull(order.Address.Location)
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO dispatch_orders (`+dispatchOrderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (id) DO NOTHING
	`,
		order.ID, order.CustomerID, string(order.Status), string(order.PaymentStatus),
		order.PartnerID, order.AmountMinor,
		order.Address.Line1, order.Address.Line2, order.Address.City, order.Address.PostalCode,
		lat, lng, itemsJSON, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return false, wrapInfra("register dispatch order", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, wrapInfra("rows affected", err)
	}

	return affected > 0, nil
}

func (r *dispatchOrderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.getOne(ctx, `
		SELECT `+dispatchOrderColumns+`
		FROM dispatch_orders
		WHERE id = $1
	`, id)
}

func (r *dispatchOrderRepository) ListPending() ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.list(ctx, `
		SELECT `+dispatchOrderColumns+`
		FROM dispatch_orders
		WHERE partner_email = '' AND status = $1
		ORDER BY created_at ASC, id ASC
	`, string(domain.OrderStatusPending))
}

func (r *dispatchOrderRepository) ListActiveByPartner(partnerEmail string) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.list(ctx, `
		SELECT `+dispatchOrderColumns+`
		FROM dispatch_orders
		WHERE partner_email = $1
		  AND status NOT IN ($2, $3)
		ORDER BY created_at ASC, id ASC
	`, partnerEmail, string(domain.OrderStatusDelivered), string(domain.OrderStatusCancelled))
}

// Assign — условный UPDATE: строка меняется только пока partner_email пуст
// и статус остаётся pending, поэтому из конкурентных вызовов побеждает ровно
// один без внешних блокировок, а отменённый владельцем заказ принять нельзя.
func (r *dispatchOrderRepository) Assign(orderID, partnerEmail string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE dispatch_orders
		SET partner_email = $2,
		    status = $3,
		    updated_at = NOW()
		WHERE id = $1
		  AND partner_email = ''
		  AND status = $4
	`, orderID, partnerEmail, string(domain.OrderStatusAssigned), string(domain.OrderStatusPending))
	if err != nil {
		return domain.Order{}, wrapInfra("assign dispatch order", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, wrapInfra("rows affected", err)
	}
	if affected == 0 {
		order, err := r.Get(orderID)
		if err != nil {
			return domain.Order{}, err
		}
		if order.PartnerID != "" {
			return domain.Order{}, domain.ErrOrderAlreadyAssigned
		}
		return domain.Order{}, fmt.Errorf("%w: %s -> %s",
			domain.ErrIllegalTransition, order.Status, domain.OrderStatusAssigned)
	}

	return r.Get(orderID)
}

func (r *dispatchOrderRepository) UpdateStatus(orderID string, status domain.OrderStatus) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE dispatch_orders
		SET status = $2,
		    updated_at = NOW()
		WHERE id = $1
	`, orderID, string(status))
	if err != nil {
		return domain.Order{}, wrapInfra("update dispatch order status", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, wrapInfra("rows affected", err)
	}
	if affected == 0 {
		return domain.Order{}, domain.ErrOrderNotFound
	}

	return r.Get(orderID)
}

func (r *dispatchOrderRepository) getOne(ctx context.Context, query string, args ...interface{}) (domain.Order, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	order, err := scanDispatchOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, wrapInfra("select dispatch order", err)
	}
	return order, nil
}

func (r *dispatchOrderRepository) list(ctx context.Context, query string, args ...interface{}) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapInfra("list dispatch orders", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanDispatchOrder(rows)
		if err != nil {
			return nil, wrapInfra("scan dispatch order row", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapInfra("iterate dispatch order rows", err)
	}

	return orders, nil
}

func scanDispatchOrder(row rowScanner) (domain.Order, error) {
	var (
		order         domain.Order
		status        string
		paymentStatus string
		lat, lng      sql.NullFloat64
		itemsJSON     []byte
	)
	if err := row.Scan(
		&order.ID, &order.CustomerID, &status, &paymentStatus,
		&order.PartnerID, &order.AmountMinor,
		&order.Address.Line1, &order.Address.Line2, &order.Address.City, &order.Address.PostalCode,
		&lat, &lng, &itemsJSON, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	order.Address.Location = geoFromNull(lat, lng)
	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
			return domain.Order{}, err
		}
	}
	return order, nil
}

var _ domain.DispatchOrderRepository = (*dispatchOrderRepository)(nil)
