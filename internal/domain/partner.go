package domain

import "time"

// DeliveryPartner — курьер, зарегистрированный в dispatch-service.
// Идентичность партнёра — email: он стабилен и используется между сервисами
// вместо внутреннего идентификатора.
type DeliveryPartner struct {
	Email         string
	Name          string
	Phone         string
	VehicleType   string
	VehicleNumber string
	// Available — false ровно в тот период, пока партнёр везёт один заказ.
	Available bool
	// SocketID принадлежит realtime-нотификатору; пустая строка означает «не подключён».
	SocketID string
	// Location — последняя известная координата; nil, если партнёр её ещё не сообщал.
	Location  *GeoPoint
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateInvariants проверяет базовые инварианты партнёра.
func (p *DeliveryPartner) ValidateInvariants() []error {
	var errs []error
	if p.Email == "" {
		errs = append(errs, ErrPartnerEmailRequired)
	}
	if p.Name == "" {
		errs = append(errs, ErrPartnerNameRequired)
	}
	return errs
}

// Customer — зеркальная запись профиля клиента, пополняемая событиями
// profile.updated. Используется только для обогащения уведомлений;
// канонический профиль живёт в сервисе пользователей.
type Customer struct {
	UserID    string
	Email     string
	Name      string
	Phone     string
	UpdatedAt time.Time
}
