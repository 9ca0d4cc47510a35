package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vladislavdragonenkov/dds/internal/domain"
)

type partnerRepository struct {
	db *sql.DB
}

// NewPartnerRepository создаёт PostgreSQL-реализацию PartnerRepository.
func NewPartnerRepository(store *Store) domain.PartnerRepository {
	return &partnerRepository{db: store.DB()}
}

const partnerColumns = `
	email, name, phone, vehicle_type, vehicle_number, available, socket_id,
	location_lat, location_lng, created_at, updated_at
`

// Upsert обновляет профиль партнёра. Runtime-поля (available, socket_id,
// координата) при повторной регистрации не затираются.
func (r *partnerRepository) Upsert(partner domain.DeliveryPartner) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO delivery_partners (`+partnerColumns+`)
		VALUES ($1,$2,$3,$4,$5,TRUE,'',NULL,NULL,$6,$6)
		ON CONFLICT (email) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			vehicle_type = EXCLUDED.vehicle_type,
			vehicle_number = EXCLUDED.vehicle_number,
			updated_at = EXCLUDED.updated_at
	`,
		partner.Email, partner.Name, partner.Phone,
		partner.VehicleType, partner.VehicleNumber, partner.UpdatedAt,
	)
	if err != nil {
		return wrapInfra("upsert partner", err)
	}
	return nil
}

func (r *partnerRepository) Get(email string) (domain.DeliveryPartner, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT `+partnerColumns+`
		FROM delivery_partners
		WHERE email = $1
	`, email)

	partner, err := scanPartner(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DeliveryPartner{}, domain.ErrPartnerNotFound
		}
		return domain.DeliveryPartner{}, wrapInfra("select partner", err)
	}
	return partner, nil
}

func (r *partnerRepository) ListAvailable() ([]domain.DeliveryPartner, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+partnerColumns+`
		FROM delivery_partners
		WHERE available
		ORDER BY email ASC
	`)
	if err != nil {
		return nil, wrapInfra("list available partners", err)
	}
	defer rows.Close()

	partners := make([]domain.DeliveryPartner, 0)
	for rows.Next() {
		partner, err := scanPartner(rows)
		if err != nil {
			return nil, wrapInfra("scan partner row", err)
		}
		partners = append(partners, partner)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapInfra("iterate partner rows", err)
	}

	return partners, nil
}

func (r *partnerRepository) SetAvailability(email string, available bool) error {
	return r.update(email, `available = $2`, available)
}

// ClaimAvailable — условный UPDATE: строка меняется только пока партнёр
// доступен, поэтому два экземпляра сервиса не займут одного партнёра дважды.
func (r *partnerRepository) ClaimAvailable(email string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE delivery_partners
		SET available = FALSE,
		    updated_at = NOW()
		WHERE email = $1
		  AND available
	`, email)
	if err != nil {
		return wrapInfra("claim partner", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return wrapInfra("rows affected", err)
	}
	if affected == 0 {
		if _, err := r.Get(email); err != nil {
			return err
		}
		return domain.ErrPartnerUnavailable
	}
	return nil
}

func (r *partnerRepository) SetLocation(email string, point domain.GeoPoint) error {
	return r.update(email, `location_lat = $2, location_lng = $3`, point.Lat, point.Lng)
}

func (r *partnerRepository) SetSocket(email, socketID string) error {
	return r.update(email, `socket_id = $2`, socketID)
}

func (r *partnerRepository) update(email, set string, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	query := `UPDATE delivery_partners SET ` + set + `, updated_at = NOW() WHERE email = $1`
	res, err := r.db.ExecContext(ctx, query, append([]interface{}{email}, args...)...)
	if err != nil {
		return wrapInfra("update partner", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return wrapInfra("rows affected", err)
	}
	if affected == 0 {
		return domain.ErrPartnerNotFound
	}
	return nil
}

func scanPartner(row rowScanner) (domain.DeliveryPartner, error) {
	var (
		partner  domain.DeliveryPartner
		lat, lng sql.NullFloat64
	)
	if err := row.Scan(
		&partner.Email, &partner.Name, &partner.Phone,
		&partner.VehicleType, &partner.VehicleNumber,
		&partner.Available, &partner.SocketID,
		&lat, &lng, &partner.CreatedAt, &partner.UpdatedAt,
	); err != nil {
		return domain.DeliveryPartner{}, err
	}
	partner.Location = geoFromNull(lat, lng)
	return partner, nil
}

var _ domain.PartnerRepository = (*partnerRepository)(nil)
