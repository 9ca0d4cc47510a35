package memory

import (
	"errors"
	"sync"
	"testing"

	"github.com/vladislavdragonenkov/dds/internal/domain"
)

func makePartner(email string) domain.DeliveryPartner {
	return domain.DeliveryPartner{
		Email:         email,
		Name:          "Ivan",
		Phone:         "+70000000000",
		VehicleType:   "bike",
		VehicleNumber: "A123",
	}
}

func TestPartnerRepository_UpsertAndGet(t *testing.T) {
	repo := NewPartnerRepository()

	if err := repo.Upsert(makePartner("p1@example.com")); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := repo.Get("p1@example.com")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.Available {
		t.Fatal("new partner must be available")
	}

	if _, err := repo.Get("missing@example.com"); !errors.Is(err, domain.ErrPartnerNotFound) {
		t.Fatalf("expected ErrPartnerNotFound, got %v", err)
	}

	if err := repo.Upsert(domain.DeliveryPartner{}); !errors.Is(err, domain.ErrPartnerEmailRequired) {
		t.Fatalf("expected ErrPartnerEmailRequired, got %v", err)
	}
}

func TestPartnerRepository_UpsertKeepsOperationalState(t *testing.T) {
	repo := NewPartnerRepository()

	if err := repo.Upsert(makePartner("p1@example.com")); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := repo.SetAvailability("p1@example.com", false); err != nil {
		t.Fatalf("set availability failed: %v", err)
	}
	if err := repo.SetSocket("p1@example.com", "socket-1"); err != nil {
		t.Fatalf("set socket failed: %v", err)
	}

	// Редоставка delivery_partner.registered не должна сбрасывать доступность и канал.
	updated := makePartner("p1@example.com")
	updated.Name = "Ivan Petrov"
	if err := repo.Upsert(updated); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	got, _ := repo.Get("p1@example.com")
	if got.Name != "Ivan Petrov" {
		t.Fatal("upsert must refresh profile fields")
	}
	if got.Available {
		t.Fatal("upsert must not reset availability")
	}
	if got.SocketID != "socket-1" {
		t.Fatal("upsert must not reset socket binding")
	}
}

func TestPartnerRepository_ListAvailable(t *testing.T) {
	repo := NewPartnerRepository()

	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		if err := repo.Upsert(makePartner(email)); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}
	if err := repo.SetAvailability("b@example.com", false); err != nil {
		t.Fatalf("set availability failed: %v", err)
	}

	available, err := repo.ListAvailable()
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(available) != 2 {
		t.Fatalf("expected 2 available partners, got %d", len(available))
	}
	for _, p := range available {
		if p.Email == "b@example.com" {
			t.Fatal("busy partner must not be listed")
		}
	}
}

func TestPartnerRepository_SetLocation(t *testing.T) {
	repo := NewPartnerRepository()
	if err := repo.Upsert(makePartner("p1@example.com")); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	if err := repo.SetLocation("p1@example.com", domain.GeoPoint{Lat: 55.75, Lng: 37.61}); err != nil {
		t.Fatalf("set location failed: %v", err)
	}

	got, _ := repo.Get("p1@example.com")
	if got.Location == nil || got.Location.Lat != 55.75 {
		t.Fatalf("unexpected location: %+v", got.Location)
	}

	if err := repo.SetLocation("missing@example.com", domain.GeoPoint{}); !errors.Is(err, domain.ErrPartnerNotFound) {
		t.Fatalf("expected ErrPartnerNotFound, got %v", err)
	}
}

func TestPartnerRepository_ClaimAvailable(t *testing.T) {
	repo := NewPartnerRepository()
	if err := repo.Upsert(makePartner("p1@example.com")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if err := repo.ClaimAvailable("p1@example.com"); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if err := repo.ClaimAvailable("p1@example.com"); !errors.Is(err, domain.ErrPartnerUnavailable) {
		t.Fatalf("expected ErrPartnerUnavailable, got %v", err)
	}
	if err := repo.ClaimAvailable("ghost@example.com"); !errors.Is(err, domain.ErrPartnerNotFound) {
		t.Fatalf("expected ErrPartnerNotFound, got %v", err)
	}

	partner, err := repo.Get("p1@example.com")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if partner.Available {
		t.Fatal("claimed partner must be unavailable")
	}
}

func TestPartnerRepository_ClaimAvailableResolvesRace(t *testing.T) {
	repo := NewPartnerRepository()
	if err := repo.Upsert(makePartner("p1@example.com")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	const claimers = 16
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		losses int
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.ClaimAvailable("p1@example.com")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrPartnerUnavailable):
				losses++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly 1 successful claim, got %d", wins)
	}
	if losses != claimers-1 {
		t.Fatalf("expected %d rejected claims, got %d", claimers-1, losses)
	}
}
