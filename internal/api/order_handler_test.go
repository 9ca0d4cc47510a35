package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/dds/internal/service/orders"
	"github.com/vladislavdragonenkov/dds/internal/storage/memory"
)

func newOrderAPI(t *testing.T) http.Handler {
	t.Helper()
	svc := orders.NewService(
		memory.NewOrderRepository(),
		memory.NewTimelineRepository(),
		memory.NewOutboxRepository(),
		memory.NewInboxRepository(),
		memory.NewCustomerRepository(),
		nil,
	)
	return NewOrderHandler(svc, nil).Routes()
}

func doJSON(t *testing.T, handler http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func validCreateRequest() createOrderRequest {
	return createOrderRequest{
		CustomerID:  "customer-1",
		AmountMinor: 2500,
		Address:     addressDTO{Line1: "Невский проспект, 1", City: "Санкт-Петербург"},
		Items: []orderItemDTO{
			{ProductID: "sku-1", Name: "Пицца Маргарита", Qty: 1, PriceMinor: 1500},
			{ProductID: "sku-2", Name: "Морс", Qty: 2, PriceMinor: 500},
		},
	}
}

func createOrderViaAPI(t *testing.T, handler http.Handler) orderDTO {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/orders", validCreateRequest())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	env := decodeEnvelope(t, rec)
	var dto orderDTO
	require.NoError(t, json.Unmarshal(env["order"], &dto))
	require.NotEmpty(t, dto.OrderID)
	return dto
}

func TestCreateOrder_Success(t *testing.T) {
	handler := newOrderAPI(t)

	dto := createOrderViaAPI(t, handler)

	require.Equal(t, "pending", dto.Status)
	require.Equal(t, "pending", dto.PaymentStatus)
	require.Equal(t, "customer-1", dto.CustomerID)
	require.Len(t, dto.Items, 2)
	require.Equal(t, int64(2500), dto.AmountMinor)
}

func TestCreateOrder_AmountMismatchRejected(t *testing.T) {
	handler := newOrderAPI(t)

	req := validCreateRequest()
	req.AmountMinor = 9999
	rec := doJSON(t, handler, http.MethodPost, "/orders", req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	require.JSONEq(t, "false", string(env["success"]))
}

func TestCreateOrder_MalformedBody(t *testing.T) {
	handler := newOrderAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOrder_NotFound(t *testing.T) {
	handler := newOrderAPI(t)

	rec := doJSON(t, handler, http.MethodGet, "/orders/missing-id", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetOrder_ReturnsCreated(t *testing.T) {
	handler := newOrderAPI(t)
	created := createOrderViaAPI(t, handler)

	rec := doJSON(t, handler, http.MethodGet, "/orders/"+created.OrderID, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	var dto orderDTO
	require.NoError(t, json.Unmarshal(env["order"], &dto))
	require.Equal(t, created.OrderID, dto.OrderID)
}

func TestListOrders_RequiresCustomerID(t *testing.T) {
	handler := newOrderAPI(t)

	rec := doJSON(t, handler, http.MethodGet, "/orders", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListOrders_FiltersByCustomer(t *testing.T) {
	handler := newOrderAPI(t)
	createOrderViaAPI(t, handler)
	createOrderViaAPI(t, handler)

	rec := doJSON(t, handler, http.MethodGet, "/orders?customerId=customer-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	var list []orderDTO
	require.NoError(t, json.Unmarshal(env["data"], &list))
	require.Len(t, list, 2)

	rec = doJSON(t, handler, http.MethodGet, "/orders?customerId=somebody-else", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	env = decodeEnvelope(t, rec)
	require.NoError(t, json.Unmarshal(env["data"], &list))
	require.Empty(t, list)
}

func TestUpdateStatus_IllegalTransitionConflict(t *testing.T) {
	handler := newOrderAPI(t)
	created := createOrderViaAPI(t, handler)

	rec := doJSON(t, handler, http.MethodPut, "/orders/"+created.OrderID+"/status",
		updateStatusRequest{Status: "on_the_way", PartnerEmail: "courier@couriers.example"})

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpdateStatus_AssignsPartner(t *testing.T) {
	handler := newOrderAPI(t)
	created := createOrderViaAPI(t, handler)

	rec := doJSON(t, handler, http.MethodPut, "/orders/"+created.OrderID+"/status",
		updateStatusRequest{Status: "assigned", PartnerEmail: "courier@couriers.example"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	env := decodeEnvelope(t, rec)
	var dto orderDTO
	require.NoError(t, json.Unmarshal(env["order"], &dto))
	require.Equal(t, "assigned", dto.Status)
	require.Equal(t, "courier@couriers.example", dto.PartnerEmail)
}

func TestUpdateStatus_UnknownStatusRejected(t *testing.T) {
	handler := newOrderAPI(t)
	created := createOrderViaAPI(t, handler)

	rec := doJSON(t, handler, http.MethodPut, "/orders/"+created.OrderID+"/status",
		updateStatusRequest{Status: "teleported"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdatePayment_DoesNotTouchDeliveryStatus(t *testing.T) {
	handler := newOrderAPI(t)
	created := createOrderViaAPI(t, handler)

	rec := doJSON(t, handler, http.MethodPut, "/orders/"+created.OrderID+"/payment",
		updatePaymentRequest{PaymentStatus: "completed"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	env := decodeEnvelope(t, rec)
	var dto orderDTO
	require.NoError(t, json.Unmarshal(env["order"], &dto))
	require.Equal(t, "completed", dto.PaymentStatus)
	require.Equal(t, "pending", dto.Status)
}

func TestOrderTimeline_RecordsLifecycle(t *testing.T) {
	handler := newOrderAPI(t)
	created := createOrderViaAPI(t, handler)

	rec := doJSON(t, handler, http.MethodPut, "/orders/"+created.OrderID+"/status",
		updateStatusRequest{Status: "assigned", PartnerEmail: "courier@couriers.example"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, http.MethodGet, "/orders/"+created.OrderID+"/timeline", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	var events []timelineEventDTO
	require.NoError(t, json.Unmarshal(env["data"], &events))
	require.GreaterOrEqual(t, len(events), 2)
	require.Equal(t, "OrderCreated", events[0].Type)
}
