package escrow

import (
	"fmt"
	"strings"

	nativecommon "escrowd/native/common"
)

// Metadata setters are seller-only. Title, category and shipping origin are
// frozen once a buyer commits, which prevents bait-and-switch after purchase;
// the attached-files reference stays mutable in every state because it is the
// post-sale delivery channel. Unlike repricing, writing an identical value
// still emits its change event.

func (e *Engine) metadataGuard(id [32]byte, caller [20]byte, preSaleOnly bool) (*Escrow, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, err)
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	if caller != esc.Seller {
		return nil, fmt.Errorf("%w: only the seller may edit the listing", ErrUnauthorized)
	}
	if preSaleOnly && esc.Status != StatusWaitingBuyer {
		return nil, fmt.Errorf("%w: listing metadata frozen in status %s", ErrInvalidState, esc.Status)
	}
	return esc, nil
}

// SetTitle renames the listing. The title must stay non-empty.
func (e *Engine) SetTitle(id [32]byte, caller [20]byte, title string) error {
	esc, err := e.metadataGuard(id, caller, true)
	if err != nil {
		return err
	}
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return fmt.Errorf("%w: title", ErrEmptyField)
	}
	esc.Title = trimmed
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewTitleChangedEvent(esc))
	return nil
}

// SetCategory updates the listing category code.
func (e *Engine) SetCategory(id [32]byte, caller [20]byte, category string) error {
	esc, err := e.metadataGuard(id, caller, true)
	if err != nil {
		return err
	}
	esc.Category = strings.TrimSpace(category)
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewCategoryChangedEvent(esc))
	return nil
}

// SetShipsFrom updates the declared shipping origin.
func (e *Engine) SetShipsFrom(id [32]byte, caller [20]byte, shipsFrom string) error {
	esc, err := e.metadataGuard(id, caller, true)
	if err != nil {
		return err
	}
	esc.ShipsFrom = strings.TrimSpace(shipsFrom)
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewShipsFromChangedEvent(esc))
	return nil
}

// SetAttachedFiles updates the content reference for attached files. The
// referenced content is not validated here; that responsibility sits with the
// caller.
func (e *Engine) SetAttachedFiles(id [32]byte, caller [20]byte, cid string) error {
	esc, err := e.metadataGuard(id, caller, false)
	if err != nil {
		return err
	}
	old := esc.AttachedFiles
	esc.AttachedFiles = strings.TrimSpace(cid)
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewAttachedFilesChangedEvent(esc, old))
	return nil
}
