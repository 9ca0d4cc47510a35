package api

import "github.com/vladislavdragonenkov/dds/internal/domain"

// orderDTO — заказ в REST-ответах. Формат полей совпадает с кадрами
// realtime-нотификатора, чтобы клиенты разбирали заказ одним кодом.
type orderDTO struct {
	OrderID       string         `json:"order_id"`
	CustomerID    string         `json:"customer_id"`
	Status        string         `json:"status"`
	PaymentStatus string         `json:"payment_status"`
	PartnerEmail  string         `json:"assigned_partner_id,omitempty"`
	AmountMinor   int64          `json:"amount_minor"`
	Address       addressDTO     `json:"address"`
	Items         []orderItemDTO `json:"items"`
	Version       int64          `json:"version"`
	CreatedAt     string         `json:"created_at"`
	UpdatedAt     string         `json:"updated_at"`
}

type addressDTO struct {
	Line1      string  `json:"line1"`
	Line2      string  `json:"line2,omitempty"`
	City       string  `json:"city"`
	PostalCode string  `json:"postal_code,omitempty"`
	Lat        float64 `json:"lat,omitempty"`
	Lng        float64 `json:"lng,omitempty"`
}

type orderItemDTO struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

// partnerDTO — партнёр доставки в REST-ответах.
type partnerDTO struct {
	Email         string  `json:"email"`
	Name          string  `json:"name"`
	Phone         string  `json:"phone,omitempty"`
	VehicleType   string  `json:"vehicle_type,omitempty"`
	VehicleNumber string  `json:"vehicle_number,omitempty"`
	Available     bool    `json:"available"`
	Lat           float64 `json:"lat,omitempty"`
	Lng           float64 `json:"lng,omitempty"`
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func orderToDTO(o domain.Order) orderDTO {
	dto := orderDTO{
		OrderID:       o.ID,
		CustomerID:    o.CustomerID,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		PartnerEmail:  o.PartnerID,
		AmountMinor:   o.AmountMinor,
		Address: addressDTO{
			Line1:      o.Address.Line1,
			Line2:      o.Address.Line2,
			City:       o.Address.City,
			PostalCode: o.Address.PostalCode,
		},
		Version:   o.Version,
		CreatedAt: o.CreatedAt.UTC().Format(timeFormat),
		UpdatedAt: o.UpdatedAt.UTC().Format(timeFormat),
	}
	if o.Address.Location != nil {
		dto.Address.Lat = o.Address.Location.Lat
		dto.Address.Lng = o.Address.Location.Lng
	}
	for _, item := range o.Items {
		dto.Items = append(dto.Items, orderItemDTO{
			ProductID:  item.ProductID,
			Name:       item.Name,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		})
	}
	return dto
}

func ordersToDTO(orders []domain.Order) []orderDTO {
	out := make([]orderDTO, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderToDTO(o))
	}
	return out
}

func partnerToDTO(p domain.DeliveryPartner) partnerDTO {
	dto := partnerDTO{
		Email:         p.Email,
		Name:          p.Name,
		Phone:         p.Phone,
		VehicleType:   p.VehicleType,
		VehicleNumber: p.VehicleNumber,
		Available:     p.Available,
	}
	if p.Location != nil {
		dto.Lat = p.Location.Lat
		dto.Lng = p.Location.Lng
	}
	return dto
}

func partnersToDTO(partners []domain.DeliveryPartner) []partnerDTO {
	out := make([]partnerDTO, 0, len(partners))
	for _, p := range partners {
		out = append(out, partnerToDTO(p))
	}
	return out
}
