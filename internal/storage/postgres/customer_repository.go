package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vladislavdragonenkov/dds/internal/domain"
)

type customerRepository struct {
	db *sql.DB
}

// NewCustomerRepository создаёт PostgreSQL-реализацию CustomerRepository.
func NewCustomerRepository(store *Store) domain.CustomerRepository {
	return &customerRepository{db: store.DB()}
}

func (r *customerRepository) Upsert(customer domain.Customer) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO customers (user_id, email, name, phone, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			updated_at = EXCLUDED.updated_at
	`, customer.UserID, customer.Email, customer.Name, customer.Phone, customer.UpdatedAt)
	if err != nil {
		return wrapInfra("upsert customer", err)
	}
	return nil
}

func (r *customerRepository) Get(userID string) (domain.Customer, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var customer domain.Customer
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, email, name, phone, updated_at
		FROM customers
		WHERE user_id = $1
	`, userID).Scan(&customer.UserID, &customer.Email, &customer.Name, &customer.Phone, &customer.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, wrapInfra("select customer", err)
	}
	return customer, nil
}

var _ domain.CustomerRepository = (*customerRepository)(nil)
