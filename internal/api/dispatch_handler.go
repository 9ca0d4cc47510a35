package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/dds/internal/domain"
	"github.com/vladislavdragonenkov/dds/internal/service/dispatch"
)

// DispatchHandler — REST-обвязка координатора доставки.
type DispatchHandler struct {
	coordinator *dispatch.Coordinator
	logger      *log.Entry
}

// NewDispatchHandler конструирует обработчик поверх координатора.
func NewDispatchHandler(coordinator *dispatch.Coordinator, logger *log.Entry) *DispatchHandler {
	if logger == nil {
		logger = log.New().WithField("component", "dispatch-api")
	}
	return &DispatchHandler{coordinator: coordinator, logger: logger}
}

// Routes собирает маршруты координатора.
func (h *DispatchHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/orders/pending", h.pendingOrders)
	r.Get("/orders/active", h.activeOrders)
	r.Post("/orders/assign", h.assignOrder)
	r.Put("/orders/{orderID}/status", h.updateOrderStatus)
	r.Get("/partners", h.availablePartners)
	r.Post("/partners", h.registerPartner)
	r.Put("/partners/{email}/availability", h.updateAvailability)
	r.Put("/partners/{email}/location", h.updateLocation)
	return r
}

func (h *DispatchHandler) pendingOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.coordinator.ListPendingOrders()
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, ordersToDTO(list))
}

func (h *DispatchHandler) activeOrders(w http.ResponseWriter, r *http.Request) {
	partnerEmail := r.URL.Query().Get("partnerEmail")
	if partnerEmail == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "partnerEmail query parameter is required"})
		return
	}
	list, err := h.coordinator.ActiveOrders(partnerEmail)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, ordersToDTO(list))
}

type assignOrderRequest struct {
	OrderID      string `json:"orderId"`
	PartnerEmail string `json:"partnerId"`
}

func (h *DispatchHandler) assignOrder(w http.ResponseWriter, r *http.Request) {
	var req assignOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "malformed request body"})
		return
	}
	if req.OrderID == "" || req.PartnerEmail == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "orderId and partnerId are required"})
		return
	}

	order, err := h.coordinator.AcceptOrder(req.OrderID, req.PartnerEmail)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOrder(w, http.StatusOK, orderToDTO(order))
}

func (h *DispatchHandler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "malformed request body"})
		return
	}

	order, err := h.coordinator.UpdateOrderStatus(chi.URLParam(r, "orderID"), domain.OrderStatus(req.Status), req.PartnerEmail)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOrder(w, http.StatusOK, orderToDTO(order))
}

func (h *DispatchHandler) availablePartners(w http.ResponseWriter, r *http.Request) {
	list, err := h.coordinator.AvailablePartners()
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, partnersToDTO(list))
}

type registerPartnerRequest struct {
	Email         string `json:"email"`
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	VehicleType   string `json:"vehicle_type"`
	VehicleNumber string `json:"vehicle_number"`
}

func (h *DispatchHandler) registerPartner(w http.ResponseWriter, r *http.Request) {
	var req registerPartnerRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "malformed request body"})
		return
	}

	partner := domain.DeliveryPartner{
		Email:         req.Email,
		Name:          req.Name,
		Phone:         req.Phone,
		VehicleType:   req.VehicleType,
		VehicleNumber: req.VehicleNumber,
	}
	if err := h.coordinator.RegisterPartner(partner); err != nil {
		writeError(w, h.logger, err)
		return
	}
	registered, err := h.coordinator.GetPartner(req.Email)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusCreated, partnerToDTO(registered))
}

type updateAvailabilityRequest struct {
	Available bool `json:"available"`
}

func (h *DispatchHandler) updateAvailability(w http.ResponseWriter, r *http.Request) {
	var req updateAvailabilityRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "malformed request body"})
		return
	}
	if err := h.coordinator.UpdatePartnerAvailability(chi.URLParam(r, "email"), req.Available); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"available": req.Available})
}

type updateLocationRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (h *DispatchHandler) updateLocation(w http.ResponseWriter, r *http.Request) {
	var req updateLocationRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "malformed request body"})
		return
	}
	if err := h.coordinator.UpdatePartnerLocation(chi.URLParam(r, "email"), domain.GeoPoint{Lat: req.Lat, Lng: req.Lng}); err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeData(w, http.StatusOK, map[string]float64{"lat": req.Lat, "lng": req.Lng})
}
