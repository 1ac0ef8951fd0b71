package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestCart_AddRemoveAndTotals(t *testing.T) {
	chips := Product{ID: "chips", Name: "Chips", Price: decimal.RequireFromString("2.40")}
	soda := Product{ID: "soda", Name: "Soda", Price: decimal.RequireFromString("1.15")}

	var cart Cart
	cart.Add(chips)
	cart.Add(chips)
	cart.Add(soda)

	if len(cart.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(cart.Items))
	}
	if cart.Items[0].Quantity != 2 {
		t.Fatalf("expected chips quantity 2, got %d", cart.Items[0].Quantity)
	}
	if !cart.Total().Equal(decimal.RequireFromString("5.95")) {
		t.Fatalf("unexpected total: %s", cart.Total())
	}
	if !cart.Donation().Equal(decimal.RequireFromString("0.6")) {
		t.Fatalf("unexpected donation: %s", cart.Donation())
	}

	removed, ok := cart.Remove("chips")
	if !ok || removed.Quantity != 2 {
		t.Fatalf("unexpected removed item: %+v ok=%v", removed, ok)
	}
	if !removed.Donation().Equal(decimal.RequireFromString("0.48")) {
		t.Fatalf("unexpected lost donation: %s", removed.Donation())
	}
	if _, ok := cart.Remove("chips"); ok {
		t.Fatal("second remove must report missing item")
	}
}

func TestCart_SetQuantity(t *testing.T) {
	cart := Cart{}
	cart.Add(Product{ID: "bar", Price: decimal.NewFromInt(1)})

	if err := cart.SetQuantity("bar", 5); err != nil {
		t.Fatalf("set quantity: %v", err)
	}
	if cart.Items[0].Quantity != 5 {
		t.Fatalf("expected quantity 5, got %d", cart.Items[0].Quantity)
	}

	if err := cart.SetQuantity("bar", -1); !errors.Is(err, ErrCartQtyInvalid) {
		t.Fatalf("expected ErrCartQtyInvalid, got %v", err)
	}
	if err := cart.SetQuantity("missing", 1); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}

	if err := cart.SetQuantity("bar", 0); err != nil {
		t.Fatalf("set zero quantity: %v", err)
	}
	if len(cart.Items) != 0 {
		t.Fatal("zero quantity must remove the item")
	}
}

func TestItemDonation(t *testing.T) {
	got := ItemDonation(Product{Price: decimal.RequireFromString("3.99")})
	if !got.Equal(decimal.RequireFromString("0.4")) {
		t.Fatalf("unexpected donation: %s", got)
	}
}
