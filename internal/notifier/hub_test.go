package notifier

import (
	"encoding/json"
	"testing"

	"github.com/vladislavdragonenkov/dds/internal/domain"
)

// stubCoordinator — координатор для проверки адресации broadcast-ов.
type stubCoordinator struct {
	available    []domain.DeliveryPartner
	acceptErr    error
	acceptedBy   []string
	disconnected []string
}

func (s *stubCoordinator) AcceptOrder(orderID, partnerEmail string) (domain.Order, error) {
	if s.acceptErr != nil {
		return domain.Order{}, s.acceptErr
	}
	s.acceptedBy = append(s.acceptedBy, partnerEmail)
	return domain.Order{ID: orderID, Status: domain.OrderStatusAssigned, PartnerID: partnerEmail}, nil
}

func (s *stubCoordinator) UpdateOrderStatus(orderID string, status domain.OrderStatus, partnerEmail string) (domain.Order, error) {
	return domain.Order{ID: orderID, Status: status, PartnerID: partnerEmail}, nil
}

func (s *stubCoordinator) AvailablePartners() ([]domain.DeliveryPartner, error) {
	return s.available, nil
}

func (s *stubCoordinator) HandleConnect(email, socketID string) error {
	return nil
}

func (s *stubCoordinator) HandleDisconnect(email string) {
	s.disconnected = append(s.disconnected, email)
}

func attachTestClient(t *testing.T, hub *Hub, role, identity string) *Client {
	t.Helper()
	client := &Client{
		hub:      hub,
		send:     make(chan []byte, sendBufferSize),
		identity: identity,
		role:     role,
		socketID: "sock-" + identity,
	}
	hub.attach(client)
	return client
}

func readFrame(t *testing.T, client *Client) Frame {
	t.Helper()
	select {
	case data := <-client.send:
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		return frame
	default:
		t.Fatalf("expected frame for client %s, buffer is empty", client.identity)
		return Frame{}
	}
}

func assertNoFrame(t *testing.T, client *Client) {
	t.Helper()
	select {
	case data := <-client.send:
		t.Fatalf("client %s must not receive a frame, got %s", client.identity, data)
	default:
	}
}

func testOrder(id, customerID string) domain.Order {
	return domain.Order{
		ID:          id,
		CustomerID:  customerID,
		Status:      domain.OrderStatusPending,
		AmountMinor: 900,
		Address:     domain.Address{Line1: "Lenina 1", City: "Moscow"},
		Items:       []domain.OrderItem{{ProductID: "p-1", Name: "Widget", Qty: 1, PriceMinor: 900}},
	}
}

func TestHub_BroadcastNewOrder_OnlyAvailablePartners(t *testing.T) {
	coord := &stubCoordinator{
		available: []domain.DeliveryPartner{{Email: "free@couriers.example"}},
	}
	hub := NewHub(coord, nil, nil)

	free := attachTestClient(t, hub, RolePartner, "free@couriers.example")
	busy := attachTestClient(t, hub, RolePartner, "busy@couriers.example")
	customer := attachTestClient(t, hub, RoleCustomer, "customer-1")

	hub.BroadcastNewOrder(testOrder("order-1", "customer-1"))

	frame := readFrame(t, free)
	if frame.Type != FrameNewOrder || frame.OrderID != "order-1" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	var payload orderFrame
	if err := json.Unmarshal(frame.Order, &payload); err != nil {
		t.Fatalf("unmarshal order payload: %v", err)
	}
	if payload.CustomerID != "customer-1" || payload.AmountMinor != 900 {
		t.Fatalf("unexpected order payload: %+v", payload)
	}

	assertNoFrame(t, busy)
	assertNoFrame(t, customer)
}

func TestHub_BroadcastOrderTaken_SkipsAcceptingPartner(t *testing.T) {
	hub := NewHub(&stubCoordinator{}, nil, nil)

	winner := attachTestClient(t, hub, RolePartner, "winner@couriers.example")
	loser := attachTestClient(t, hub, RolePartner, "loser@couriers.example")

	hub.BroadcastOrderTaken("order-1", "winner@couriers.example")

	frame := readFrame(t, loser)
	if frame.Type != FrameOrderTaken || frame.OrderID != "order-1" {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	assertNoFrame(t, winner)
}

func TestHub_BroadcastStatusUpdate_RoomScoped(t *testing.T) {
	coord := &stubCoordinator{
		available: []domain.DeliveryPartner{
			{Email: "assigned@couriers.example"},
			{Email: "other@couriers.example"},
		},
	}
	hub := NewHub(coord, nil, nil)

	assigned := attachTestClient(t, hub, RolePartner, "assigned@couriers.example")
	other := attachTestClient(t, hub, RolePartner, "other@couriers.example")
	owner := attachTestClient(t, hub, RoleCustomer, "customer-1")
	stranger := attachTestClient(t, hub, RoleCustomer, "customer-2")

	// new_order связывает заказ с его клиентом; дренируем кадры пула.
	hub.BroadcastNewOrder(testOrder("order-1", "customer-1"))
	readFrame(t, assigned)
	readFrame(t, other)

	hub.BroadcastStatusUpdate("order-1", domain.OrderStatusPickedUp, "assigned@couriers.example")

	ownerFrame := readFrame(t, owner)
	if ownerFrame.Type != FrameStatusUpdate || ownerFrame.Status != string(domain.OrderStatusPickedUp) {
		t.Fatalf("unexpected customer frame: %+v", ownerFrame)
	}
	partnerFrame := readFrame(t, assigned)
	if partnerFrame.OrderID != "order-1" {
		t.Fatalf("unexpected partner frame: %+v", partnerFrame)
	}

	// Комната заказа: посторонние не получают ничего.
	assertNoFrame(t, other)
	assertNoFrame(t, stranger)
}

func TestHub_DetachStopsDelivery(t *testing.T) {
	coord := &stubCoordinator{}
	hub := NewHub(coord, nil, nil)

	partner := attachTestClient(t, hub, RolePartner, "gone@couriers.example")
	stay := attachTestClient(t, hub, RolePartner, "stay@couriers.example")

	hub.detach(partner)

	hub.BroadcastOrderTaken("order-1", "")
	readFrame(t, stay)

	if len(coord.disconnected) != 1 || coord.disconnected[0] != "gone@couriers.example" {
		t.Fatalf("expected disconnect hook for gone partner, got %v", coord.disconnected)
	}
}

func TestClient_AcceptOrderFrame_ConflictAnswersOrderTaken(t *testing.T) {
	coord := &stubCoordinator{acceptErr: domain.ErrOrderAlreadyAssigned}
	hub := NewHub(coord, nil, nil)
	partner := attachTestClient(t, hub, RolePartner, "late@couriers.example")

	raw, err := json.Marshal(inboundFrame{Type: FrameAcceptOrder, OrderID: "order-1"})
	if err != nil {
		t.Fatalf("marshal inbound frame: %v", err)
	}
	partner.handleFrame(raw)

	frame := readFrame(t, partner)
	if frame.Type != FrameOrderTaken {
		t.Fatalf("conflict must answer order_taken, got %+v", frame)
	}
	if frame.OrderID != "order-1" {
		t.Fatalf("unexpected order id: %s", frame.OrderID)
	}
}

func TestClient_AcceptOrderFrame_Success(t *testing.T) {
	coord := &stubCoordinator{}
	hub := NewHub(coord, nil, nil)
	partner := attachTestClient(t, hub, RolePartner, "fast@couriers.example")

	raw, err := json.Marshal(inboundFrame{Type: FrameAcceptOrder, OrderID: "order-1"})
	if err != nil {
		t.Fatalf("marshal inbound frame: %v", err)
	}
	partner.handleFrame(raw)

	frame := readFrame(t, partner)
	if frame.Type != FrameAck || frame.Status != string(domain.OrderStatusAssigned) {
		t.Fatalf("expected ack frame, got %+v", frame)
	}
	if len(coord.acceptedBy) != 1 || coord.acceptedBy[0] != "fast@couriers.example" {
		t.Fatalf("expected accept by partner identity, got %v", coord.acceptedBy)
	}
}

func TestClient_CustomerCannotSendCommands(t *testing.T) {
	hub := NewHub(&stubCoordinator{}, nil, nil)
	customer := attachTestClient(t, hub, RoleCustomer, "customer-1")

	raw, err := json.Marshal(inboundFrame{Type: FrameAcceptOrder, OrderID: "order-1"})
	if err != nil {
		t.Fatalf("marshal inbound frame: %v", err)
	}
	customer.handleFrame(raw)

	frame := readFrame(t, customer)
	if frame.Type != FrameError {
		t.Fatalf("expected error frame, got %+v", frame)
	}
}
