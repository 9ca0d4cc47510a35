package orders

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/dds/internal/domain"
	"github.com/vladislavdragonenkov/dds/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/dds/internal/storage/memory"
)

type testEnv struct {
	svc    *Service
	repo   domain.OrderRepository
	outbox domain.OutboxRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := memory.NewOrderRepository()
	outbox := memory.NewOutboxRepository()
	svc := NewService(
		repo,
		memory.NewTimelineRepository(),
		outbox,
		memory.NewInboxRepository(),
		memory.NewCustomerRepository(),
		nil,
	)
	return &testEnv{svc: svc, repo: repo, outbox: outbox}
}

func validInput() CreateOrderInput {
	return CreateOrderInput{
		CustomerID: "customer-1",
		Items: []domain.OrderItem{
			{ProductID: "p-1", Name: "Widget", Qty: 2, PriceMinor: 500},
			{ProductID: "p-2", Name: "Gadget", Qty: 1, PriceMinor: 1500},
		},
		AmountMinor: 2500,
		Address:     domain.Address{Line1: "Lenina 1", City: "Moscow"},
	}
}

func TestCreateOrder_Success(t *testing.T) {
	env := newTestEnv(t)

	order, err := env.svc.CreateOrder(validInput())
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if order.ID == "" {
		t.Fatal("expected generated order id")
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending status, got %s", order.Status)
	}
	if order.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("expected pending payment status, got %s", order.PaymentStatus)
	}
	if order.PartnerID != "" {
		t.Fatalf("new order must be unassigned, got partner %q", order.PartnerID)
	}

	stored, err := env.repo.Get(order.ID)
	if err != nil {
		t.Fatalf("stored order not found: %v", err)
	}
	if stored.AmountMinor != 2500 {
		t.Fatalf("unexpected stored amount: %d", stored.AmountMinor)
	}

	pending, err := env.outbox.PullPending(10)
	if err != nil {
		t.Fatalf("PullPending failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 outbox message, got %d", len(pending))
	}
	if pending[0].RoutingKey != string(kafka.RoutingKeyOrderCreated) {
		t.Fatalf("unexpected routing key: %s", pending[0].RoutingKey)
	}
	if pending[0].AggregateID != order.ID {
		t.Fatalf("outbox aggregate id mismatch: %s", pending[0].AggregateID)
	}
}

func TestCreateOrder_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		mutate  func(*CreateOrderInput)
		wantErr error
	}{
		{
			name:    "no items",
			mutate:  func(in *CreateOrderInput) { in.Items = nil; in.AmountMinor = 0 },
			wantErr: domain.ErrItemsRequired,
		},
		{
			name:    "amount mismatch",
			mutate:  func(in *CreateOrderInput) { in.AmountMinor = 9999 },
			wantErr: domain.ErrAmountMismatch,
		},
		{
			name:    "no customer",
			mutate:  func(in *CreateOrderInput) { in.CustomerID = "" },
			wantErr: domain.ErrCustomerRequired,
		},
		{
			name:    "no address",
			mutate:  func(in *CreateOrderInput) { in.Address = domain.Address{} },
			wantErr: domain.ErrAddressRequired,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			input := validInput()
			tc.mutate(&input)
			_, err := env.svc.CreateOrder(input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if !domain.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestUpdateStatus_RejectsIllegalTransition(t *testing.T) {
	env := newTestEnv(t)
	order, err := env.svc.CreateOrder(validInput())
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	// pending -> on_the_way перепрыгивает assigned и picked_up.
	_, err = env.svc.UpdateStatus(order.ID, domain.OrderStatusOnTheWay, "partner@example.com")
	if !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}

	stored, err := env.repo.Get(order.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Status != domain.OrderStatusPending {
		t.Fatalf("rejected transition must not change status, got %s", stored.Status)
	}
}

func TestUpdateStatus_AssignsPartnerAndPublishes(t *testing.T) {
	env := newTestEnv(t)
	order, err := env.svc.CreateOrder(validInput())
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	updated, err := env.svc.UpdateStatus(order.ID, domain.OrderStatusAssigned, "partner@example.com")
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if updated.PartnerID != "partner@example.com" {
		t.Fatalf("expected partner to be set, got %q", updated.PartnerID)
	}

	pending, err := env.outbox.PullPending(10)
	if err != nil {
		t.Fatalf("PullPending failed: %v", err)
	}
	// order.created + order.updated
	if len(pending) != 2 {
		t.Fatalf("expected 2 outbox messages, got %d", len(pending))
	}
	var sawUpdated bool
	for _, msg := range pending {
		if msg.RoutingKey == string(kafka.RoutingKeyOrderUpdated) {
			sawUpdated = true
		}
	}
	if !sawUpdated {
		t.Fatal("expected order.updated message in outbox")
	}
}

func TestUpdateStatus_CancelFromNonTerminal(t *testing.T) {
	env := newTestEnv(t)
	order, err := env.svc.CreateOrder(validInput())
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	cancelled, err := env.svc.UpdateStatus(order.ID, domain.OrderStatusCancelled, "")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	// Терминальный заказ дальше не двигается.
	_, err = env.svc.UpdateStatus(order.ID, domain.OrderStatusAssigned, "partner@example.com")
	if !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition after cancel, got %v", err)
	}
}

func TestUpdatePaymentStatus_DoesNotTouchDeliveryAxis(t *testing.T) {
	env := newTestEnv(t)
	order, err := env.svc.CreateOrder(validInput())
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	updated, err := env.svc.UpdatePaymentStatus(order.ID, domain.PaymentStatusFailed)
	if err != nil {
		t.Fatalf("UpdatePaymentStatus failed: %v", err)
	}
	if updated.PaymentStatus != domain.PaymentStatusFailed {
		t.Fatalf("expected failed payment, got %s", updated.PaymentStatus)
	}
	if updated.Status != domain.OrderStatusPending {
		t.Fatalf("payment change must not touch delivery status, got %s", updated.Status)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.GetOrder("missing")
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func envelopeBytes(env kafka.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// deliveryMessage собирает сообщение consumer-а с событием delivery.status_updated.
func deliveryMessage(t *testing.T, orderID, status, partner string) *sarama.ConsumerMessage {
	t.Helper()
	env, err := kafka.NewEnvelope(kafka.RoutingKeyDeliveryStatusUpdated, orderID,
		kafka.DeliveryStatusUpdatedEvent{
			OrderID:      orderID,
			Status:       status,
			PartnerEmail: partner,
			Timestamp:    time.Now().UTC(),
		})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	value, err := envelopeBytes(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &sarama.ConsumerMessage{Topic: kafka.TopicDeliveryEvents, Value: value}
}

func TestHandleDeliveryStatusUpdated_AppliesForward(t *testing.T) {
	env := newTestEnv(t)
	order, err := env.svc.CreateOrder(validInput())
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	msg := deliveryMessage(t, order.ID, string(domain.OrderStatusAssigned), "partner@example.com")
	if err := env.svc.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	stored, err := env.repo.Get(order.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Status != domain.OrderStatusAssigned {
		t.Fatalf("expected assigned, got %s", stored.Status)
	}
	if stored.PartnerID != "partner@example.com" {
		t.Fatalf("expected partner set, got %q", stored.PartnerID)
	}
}

func TestHandleDeliveryStatusUpdated_IgnoresStale(t *testing.T) {
	env := newTestEnv(t)
	order, err := env.svc.CreateOrder(validInput())
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	// Применяем on_the_way, затем доставляем «опоздавший» picked_up.
	steps := []string{
		string(domain.OrderStatusAssigned),
		string(domain.OrderStatusPickedUp),
		string(domain.OrderStatusOnTheWay),
	}
	for _, st := range steps {
		msg := deliveryMessage(t, order.ID, st, "partner@example.com")
		if err := env.svc.HandleMessage(context.Background(), msg); err != nil {
			t.Fatalf("HandleMessage(%s) failed: %v", st, err)
		}
	}

	stale := deliveryMessage(t, order.ID, string(domain.OrderStatusPickedUp), "partner@example.com")
	if err := env.svc.HandleMessage(context.Background(), stale); err != nil {
		t.Fatalf("stale event must be acked, got %v", err)
	}

	stored, err := env.repo.Get(order.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Status != domain.OrderStatusOnTheWay {
		t.Fatalf("stale event must not roll status back, got %s", stored.Status)
	}
}

func TestHandlePayment_RedeliveryIsNoop(t *testing.T) {
	env := newTestEnv(t)
	order, err := env.svc.CreateOrder(validInput())
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	payEnv, err := kafka.NewEnvelope(kafka.RoutingKeyPaymentSuccess, order.ID,
		kafka.PaymentEvent{OrderID: order.ID})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	value, err := envelopeBytes(payEnv)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	msg := &sarama.ConsumerMessage{Topic: kafka.TopicPayment, Value: value}

	for i := 0; i < 2; i++ {
		if err := env.svc.HandleMessage(context.Background(), msg); err != nil {
			t.Fatalf("HandleMessage attempt %d failed: %v", i+1, err)
		}
	}

	stored, err := env.repo.Get(order.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.PaymentStatus != domain.PaymentStatusCompleted {
		t.Fatalf("expected completed payment, got %s", stored.PaymentStatus)
	}
	if stored.Status != domain.OrderStatusPending {
		t.Fatalf("payment event must not touch delivery status, got %s", stored.Status)
	}
}

func TestHandleMessage_MalformedPayload(t *testing.T) {
	env := newTestEnv(t)
	msg := &sarama.ConsumerMessage{Topic: kafka.TopicPayment, Value: []byte("{broken")}

	err := env.svc.HandleMessage(context.Background(), msg)
	if !errors.Is(err, domain.ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent, got %v", err)
	}
	if domain.IsTransient(err) {
		t.Fatal("malformed event must not be transient")
	}
}

// flakyOrderRepo имитирует временный отказ хранилища на Save.
type flakyOrderRepo struct {
	domain.OrderRepository
	failures int
}

func (r *flakyOrderRepo) Save(order domain.Order) error {
	if r.failures > 0 {
		r.failures--
		return domain.ErrInfraUnavailable
	}
	return r.OrderRepository.Save(order)
}

func TestHandleDeliveryStatusUpdated_RedeliveryAppliesAfterTransientFailure(t *testing.T) {
	repo := &flakyOrderRepo{OrderRepository: memory.NewOrderRepository()}
	svc := NewService(
		repo,
		memory.NewTimelineRepository(),
		memory.NewOutboxRepository(),
		memory.NewInboxRepository(),
		memory.NewCustomerRepository(),
		nil,
	)

	order, err := svc.CreateOrder(validInput())
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	repo.failures = 1

	msg := deliveryMessage(t, order.ID, string(domain.OrderStatusAssigned), "partner@example.com")
	if err := svc.HandleMessage(context.Background(), msg); !errors.Is(err, domain.ErrInfraUnavailable) {
		t.Fatalf("expected transient failure on first delivery, got %v", err)
	}

	// Первая попытка ничего не применила, поэтому редоставка не должна
	// быть отсеяна как дубликат.
	if err := svc.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}

	stored, err := repo.Get(order.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.Status != domain.OrderStatusAssigned {
		t.Fatalf("redelivery must apply the status, got %s", stored.Status)
	}
}

func TestHandlePayment_RedeliveryAppliesAfterTransientFailure(t *testing.T) {
	repo := &flakyOrderRepo{OrderRepository: memory.NewOrderRepository()}
	svc := NewService(
		repo,
		memory.NewTimelineRepository(),
		memory.NewOutboxRepository(),
		memory.NewInboxRepository(),
		memory.NewCustomerRepository(),
		nil,
	)

	order, err := svc.CreateOrder(validInput())
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	repo.failures = 1

	payEnv, err := kafka.NewEnvelope(kafka.RoutingKeyPaymentSuccess, order.ID,
		kafka.PaymentEvent{OrderID: order.ID})
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	value, err := envelopeBytes(payEnv)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	msg := &sarama.ConsumerMessage{Topic: kafka.TopicPayment, Value: value}

	if err := svc.HandleMessage(context.Background(), msg); !errors.Is(err, domain.ErrInfraUnavailable) {
		t.Fatalf("expected transient failure on first delivery, got %v", err)
	}
	if err := svc.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}

	stored, err := repo.Get(order.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stored.PaymentStatus != domain.PaymentStatusCompleted {
		t.Fatalf("redelivery must apply the payment, got %s", stored.PaymentStatus)
	}
}
