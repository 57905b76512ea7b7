package escrow

import (
	"errors"
	"math/big"
	"testing"
)

func TestSetPriceIncreaseRequiresTopUp(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	seller := newTestAddress(0x01)
	esc := createListing(t, engine, state, seller, 100)
	state.fund(seller, 100)

	if _, err := engine.SetPrice(esc.ID, seller, big.NewInt(150), big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("missing top-up: expected ErrInvalidAmount, got %v", err)
	}
	outcome, err := engine.SetPrice(esc.ID, seller, big.NewInt(150), big.NewInt(100))
	if err != nil {
		t.Fatalf("set price: %v", err)
	}
	if outcome != PriceIncreased {
		t.Fatalf("outcome = %s, want increased", outcome)
	}
	if got := state.balance(VaultAddress(esc.ID)); got.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("vault = %s, want 300", got)
	}
	got, _ := engine.Get(esc.ID)
	if got.Price.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("price = %s, want 150", got.Price)
	}
}

func TestSetPriceDecreaseCreditsDifference(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	seller := newTestAddress(0x01)
	esc := createListing(t, engine, state, seller, 100)

	if _, err := engine.SetPrice(esc.ID, seller, big.NewInt(60), big.NewInt(5)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("stray top-up: expected ErrInvalidAmount, got %v", err)
	}
	outcome, err := engine.SetPrice(esc.ID, seller, big.NewInt(60), nil)
	if err != nil {
		t.Fatalf("set price: %v", err)
	}
	if outcome != PriceDecreased {
		t.Fatalf("outcome = %s, want decreased", outcome)
	}
	pending, _ := engine.PendingBalance(esc.ID, seller)
	if pending.Cmp(big.NewInt(80)) != 0 {
		t.Fatalf("seller pending = %s, want 80", pending)
	}
	amount, err := engine.Withdraw(esc.ID, seller)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if amount.Cmp(big.NewInt(80)) != 0 {
		t.Fatalf("withdrawn = %s, want 80", amount)
	}
	if got := state.balance(VaultAddress(esc.ID)); got.Cmp(big.NewInt(120)) != 0 {
		t.Fatalf("vault = %s, want 120", got)
	}
}

func TestSetPriceUnchangedIsSilentNoOp(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)
	seller := newTestAddress(0x01)
	esc := createListing(t, engine, state, seller, 100)

	outcome, err := engine.SetPrice(esc.ID, seller, big.NewInt(100), nil)
	if err != nil {
		t.Fatalf("set price: %v", err)
	}
	if outcome != PriceUnchanged {
		t.Fatalf("outcome = %s, want unchanged", outcome)
	}
	if got := emitter.eventTypes(); len(got) != 1 || got[0] != EventTypeCreated {
		t.Fatalf("events = %v, want only the create event", got)
	}
	if _, err := engine.SetPrice(esc.ID, seller, big.NewInt(100), big.NewInt(1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("unchanged with value: expected ErrInvalidAmount, got %v", err)
	}
}

func TestSetPriceGuards(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	seller := newTestAddress(0x01)
	buyer := newTestAddress(0x02)
	esc := createListing(t, engine, state, seller, 100)

	if _, err := engine.SetPrice(esc.ID, buyer, big.NewInt(50), nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-seller: expected ErrUnauthorized, got %v", err)
	}
	if _, err := engine.SetPrice(esc.ID, seller, big.NewInt(0), nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero price: expected ErrInvalidAmount, got %v", err)
	}

	state.fund(buyer, 200)
	if err := engine.Purchase(esc.ID, buyer, []byte("x"), big.NewInt(200)); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if _, err := engine.SetPrice(esc.ID, seller, big.NewInt(50), nil); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("sold listing: expected ErrInvalidState, got %v", err)
	}
}
