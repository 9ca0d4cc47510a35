package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dds/internal/domain"
	"github.com/vladislavdragonenkov/dds/internal/service/orders"
)

const defaultListLimit = 50

// OrderHandler — REST-обвязка владельца агрегата заказов.
type OrderHandler struct {
	svc    *orders.Service
	logger *log.Entry
}

// NewOrderHandler конструирует обработчик поверх сервиса заказов.
func NewOrderHandler(svc *orders.Service, logger *log.Entry) *OrderHandler {
	if logger == nil {
		logger = log.New().WithField("component", "order-api")
	}
	return &OrderHandler{svc: svc, logger: logger}
}

// Routes собирает маршруты владельца заказов.
func (h *OrderHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Get("/orders/{orderID}/timeline", h.orderTimeline)
	r.Put("/orders/{orderID}/status", h.updateStatus)
	r.Put("/orders/{orderID}/payment", h.updatePayment)
	return r
}

type createOrderRequest struct {
	CustomerID  string         `json:"customer_id"`
	AmountMinor int64          `json:"amount_minor"`
	Address     addressDTO     `json:"address"`
	Items       []orderItemDTO `json:"items"`
}

func (h *OrderHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "malformed request body"})
		return
	}

	input := orders.CreateOrderInput{
		CustomerID:  req.CustomerID,
		AmountMinor: req.AmountMinor,
		Address: domain.Address{
			Line1:      req.Address.Line1,
			Line2:      req.Address.Line2,
			City:       req.Address.City,
			PostalCode: req.Address.PostalCode,
		},
	}
	if req.Address.Lat != 0 || req.Address.Lng != 0 {
		input.Address.Location = &domain.GeoPoint{Lat: req.Address.Lat, Lng: req.Address.Lng}
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, domain.OrderItem{
			ProductID:  item.ProductID,
			Name:       item.Name,
			Qty:        item.Qty,
			PriceMinor: item.PriceMinor,
		})
	}

	order, err := h.svc.CreateOrder(input)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOrder(w, http.StatusCreated, orderToDTO(order))
}

func (h *OrderHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.GetOrder(chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOrder(w, http.StatusOK, orderToDTO(order))
}

func (h *OrderHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customerId")
	if customerID == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "customerId query parameter is required"})
		return
	}
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	list, err := h.svc.ListOrders(customerID, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, ordersToDTO(list))
}

type timelineEventDTO struct {
	Type     string `json:"type"`
	Reason   string `json:"reason,omitempty"`
	Occurred string `json:"occurred_at"`
}

func (h *OrderHandler) orderTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.OrderTimeline(chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	out := make([]timelineEventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, timelineEventDTO{
			Type:     ev.Type,
			Reason:   ev.Reason,
			Occurred: ev.Occurred.UTC().Format(timeFormat),
		})
	}
	writeData(w, http.StatusOK, out)
}

type updateStatusRequest struct {
	Status       string `json:"status"`
	PartnerEmail string `json:"assigned_partner_id"`
}

func (h *OrderHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "malformed request body"})
		return
	}

	order, err := h.svc.UpdateStatus(chi.URLParam(r, "orderID"), domain.OrderStatus(req.Status), req.PartnerEmail)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOrder(w, http.StatusOK, orderToDTO(order))
}

type updatePaymentRequest struct {
	PaymentStatus string `json:"payment_status"`
}

func (h *OrderHandler) updatePayment(w http.ResponseWriter, r *http.Request) {
	var req updatePaymentRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "malformed request body"})
		return
	}

	order, err := h.svc.UpdatePaymentStatus(chi.URLParam(r, "orderID"), domain.PaymentStatus(req.PaymentStatus))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOrder(w, http.StatusOK, orderToDTO(order))
}
