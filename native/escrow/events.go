package escrow

import (
	"encoding/hex"
	"strconv"

	"escrowd/core/types"
)

const (
	EventTypeCreated              = "escrow.created"
	EventTypePriceChanged         = "escrow.priceChanged"
	EventTypeTitleChanged         = "escrow.titleChanged"
	EventTypeCategoryChanged      = "escrow.categoryChanged"
	EventTypeShipsFromChanged     = "escrow.shipsFromChanged"
	EventTypeAttachedFilesChanged = "escrow.attachedFilesChanged"
	EventTypeBought               = "escrow.bought"
	EventTypeCompleted            = "escrow.completed"
	EventTypeBuyerRejected        = "escrow.buyerRejected"
	EventTypeCancelled            = "escrow.cancelled"
)

// NewCreatedEvent returns the canonical event payload for a newly constructed
// escrow.
func NewCreatedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeCreated, e) }

// NewPriceChangedEvent returns the payload emitted when a repricing actually
// changes the price. An unchanged price emits nothing.
func NewPriceChangedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypePriceChanged, e) }

// NewTitleChangedEvent returns the payload for a title update.
func NewTitleChangedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeTitleChanged, e) }

// NewCategoryChangedEvent returns the payload for a category update.
func NewCategoryChangedEvent(e *Escrow) *types.Event {
	return newEscrowEvent(EventTypeCategoryChanged, e)
}

// NewShipsFromChangedEvent returns the payload for a shipping-origin update.
func NewShipsFromChangedEvent(e *Escrow) *types.Event {
	return newEscrowEvent(EventTypeShipsFromChanged, e)
}

// NewAttachedFilesChangedEvent returns the payload for an attached-files
// update, carrying both the previous and the new content reference.
func NewAttachedFilesChangedEvent(e *Escrow, old string) *types.Event {
	evt := newEscrowEvent(EventTypeAttachedFilesChanged, e)
	evt.Attributes["oldAttachedFiles"] = old
	evt.Attributes["newAttachedFiles"] = e.AttachedFiles
	return evt
}

// NewBoughtEvent returns the payload emitted when a buyer commits to the
// trade.
func NewBoughtEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeBought, e) }

// NewCompletedEvent returns the payload emitted when the buyer confirms
// receipt and the trade settles.
func NewCompletedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeCompleted, e) }

// NewBuyerRejectedEvent returns the payload emitted when the seller declines
// the committed buyer and the offer is relisted.
func NewBuyerRejectedEvent(e *Escrow) *types.Event {
	return newEscrowEvent(EventTypeBuyerRejected, e)
}

// NewCancelledEvent returns the payload emitted when the seller withdraws the
// listing for good.
func NewCancelledEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeCancelled, e) }

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeEscrow(e)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = hex.EncodeToString(sanitized.ID[:])
	attrs["seller"] = hex.EncodeToString(sanitized.Seller[:])
	attrs["price"] = sanitized.Price.String()
	attrs["status"] = sanitized.Status.String()
	attrs["createdAt"] = strconv.FormatInt(sanitized.CreatedAt, 10)
	if sanitized.HasBuyer() {
		attrs["buyer"] = hex.EncodeToString(sanitized.Buyer[:])
	}
	if sanitized.PurchasedAt != 0 {
		attrs["purchasedAt"] = strconv.FormatInt(sanitized.PurchasedAt, 10)
	}
	if sanitized.ConfirmedAt != 0 {
		attrs["confirmedAt"] = strconv.FormatInt(sanitized.ConfirmedAt, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
