package listings

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/trademon/trademon-backend/pkg/db/dbtest"
	"github.com/trademon/trademon-backend/pkg/db/models"
	"github.com/trademon/trademon-backend/pkg/enums"
)

func TestFindByIDs(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	seller := uuid.New()
	first := models.Listing{SellerID: seller, Title: "Charizard Holo", Price: 15000, Currency: enums.CurrencyBRL}
	second := models.Listing{SellerID: seller, Title: "Pikachu Promo", Price: 2500, Currency: enums.CurrencyBRL}
	if err := conn.Create(&first).Error; err != nil {
		t.Fatalf("seed listing: %v", err)
	}
	if err := conn.Create(&second).Error; err != nil {
		t.Fatalf("seed listing: %v", err)
	}

	missing := uuid.New()
	found, err := repo.FindByIDs(ctx, []uuid.UUID{first.ID, second.ID, missing})
	if err != nil {
		t.Fatalf("find by ids: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 listings got %d", len(found))
	}
	if found[first.ID].Price != 15000 || !found[first.ID].Active {
		t.Fatalf("unexpected listing %+v", found[first.ID])
	}
	if _, ok := found[missing]; ok {
		t.Fatal("missing listing should be absent")
	}

	empty, err := repo.FindByIDs(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty result, got %v %v", empty, err)
	}
}

func TestFindByID(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	listing := models.Listing{SellerID: uuid.New(), Title: "Mewtwo", Price: 9000, Currency: enums.CurrencyBRL}
	if err := conn.Create(&listing).Error; err != nil {
		t.Fatalf("seed listing: %v", err)
	}

	got, err := repo.WithTx(conn).FindByID(context.Background(), listing.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Title != "Mewtwo" {
		t.Fatalf("unexpected title %q", got.Title)
	}
	if _, err := repo.FindByID(context.Background(), uuid.New()); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected record not found, got %v", err)
	}
}
