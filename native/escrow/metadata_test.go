package escrow

import (
	"errors"
	"math/big"
	"testing"
)

func TestMetadataSellerOnly(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	seller := newTestAddress(0x01)
	stranger := newTestAddress(0x09)
	esc := createListing(t, engine, state, seller, 100)

	if err := engine.SetTitle(esc.ID, stranger, "new title"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("title: expected ErrUnauthorized, got %v", err)
	}
	if err := engine.SetCategory(esc.ID, stranger, "books"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("category: expected ErrUnauthorized, got %v", err)
	}
	if err := engine.SetAttachedFiles(esc.ID, stranger, "cid"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("files: expected ErrUnauthorized, got %v", err)
	}
}

func TestMetadataFrozenAfterPurchase(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	seller := newTestAddress(0x01)
	buyer := newTestAddress(0x02)
	esc := createListing(t, engine, state, seller, 100)
	state.fund(buyer, 200)
	if err := engine.Purchase(esc.ID, buyer, []byte("x"), big.NewInt(200)); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	if err := engine.SetTitle(esc.ID, seller, "renamed"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("title: expected ErrInvalidState, got %v", err)
	}
	if err := engine.SetCategory(esc.ID, seller, "books"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("category: expected ErrInvalidState, got %v", err)
	}
	if err := engine.SetShipsFrom(esc.ID, seller, "DE"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("ships-from: expected ErrInvalidState, got %v", err)
	}

	// The delivery reference stays editable through the whole lifecycle.
	if err := engine.SetAttachedFiles(esc.ID, seller, "bafy-updated"); err != nil {
		t.Fatalf("files while pending: %v", err)
	}
	if err := engine.Confirm(esc.ID, buyer); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := engine.SetAttachedFiles(esc.ID, seller, "bafy-final"); err != nil {
		t.Fatalf("files after completion: %v", err)
	}
	got, _ := engine.Get(esc.ID)
	if got.AttachedFiles != "bafy-final" {
		t.Fatalf("attachedFiles = %q", got.AttachedFiles)
	}
}

func TestMetadataUpdatesAndEvents(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state)
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)
	seller := newTestAddress(0x01)
	esc := createListing(t, engine, state, seller, 100)

	if err := engine.SetTitle(esc.ID, seller, "  restored camera  "); err != nil {
		t.Fatalf("title: %v", err)
	}
	if err := engine.SetTitle(esc.ID, seller, " "); !errors.Is(err, ErrEmptyField) {
		t.Fatalf("blank title: expected ErrEmptyField, got %v", err)
	}
	if err := engine.SetCategory(esc.ID, seller, "photography"); err != nil {
		t.Fatalf("category: %v", err)
	}
	if err := engine.SetShipsFrom(esc.ID, seller, "BE"); err != nil {
		t.Fatalf("ships-from: %v", err)
	}
	// An identical write is not a no-op: the change event still fires.
	if err := engine.SetCategory(esc.ID, seller, "photography"); err != nil {
		t.Fatalf("identical category: %v", err)
	}

	got, _ := engine.Get(esc.ID)
	if got.Title != "restored camera" || got.Category != "photography" || got.ShipsFrom != "BE" {
		t.Fatalf("metadata = %q/%q/%q", got.Title, got.Category, got.ShipsFrom)
	}
	want := []string{EventTypeCreated, EventTypeTitleChanged, EventTypeCategoryChanged, EventTypeShipsFromChanged, EventTypeCategoryChanged}
	events := emitter.eventTypes()
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s", i, events[i], want[i])
		}
	}
}
