package escrow

import (
	"fmt"
	"math/big"

	nativecommon "escrowd/native/common"
)

// PriceOutcome tags the three branches of a repricing call so the no-event
// behaviour of an unchanged price is intentional and testable rather than an
// incidental early return.
type PriceOutcome uint8

const (
	PriceUnchanged PriceOutcome = iota
	PriceIncreased
	PriceDecreased
)

func (o PriceOutcome) String() string {
	switch o {
	case PriceUnchanged:
		return "unchanged"
	case PriceIncreased:
		return "increased"
	case PriceDecreased:
		return "decreased"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(o))
	}
}

// SetPrice reprices an unsold listing and reconciles the escrowed seller
// deposit. A larger deposit must be topped up exactly with attached value;
// a smaller one credits the difference back through the pull ledger; an
// unchanged price is a strict no-op and emits no event.
func (e *Engine) SetPrice(id [32]byte, caller [20]byte, newPrice *big.Int, value *big.Int) (PriceOutcome, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return PriceUnchanged, fmt.Errorf("%w: %s", ErrInvalidState, err)
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return PriceUnchanged, err
	}
	if esc.Status != StatusWaitingBuyer {
		return PriceUnchanged, fmt.Errorf("%w: cannot reprice in status %s", ErrInvalidState, esc.Status)
	}
	if caller != esc.Seller {
		return PriceUnchanged, fmt.Errorf("%w: only the seller may reprice", ErrUnauthorized)
	}
	if newPrice == nil || newPrice.Cmp(MinPrice) < 0 {
		return PriceUnchanged, fmt.Errorf("%w: price below minimum %s", ErrInvalidAmount, MinPrice)
	}
	newDeposit, err := SellerDeposit(newPrice)
	if err != nil {
		return PriceUnchanged, err
	}
	oldDeposit, err := SellerDeposit(esc.Price)
	if err != nil {
		return PriceUnchanged, err
	}
	attached := cloneBigInt(value)
	switch newDeposit.Cmp(oldDeposit) {
	case 0:
		if esc.Price.Cmp(newPrice) != 0 {
			return PriceUnchanged, faultf("SetPrice", "equal deposits for distinct prices %s and %s", esc.Price, newPrice)
		}
		if attached.Sign() != 0 {
			return PriceUnchanged, fmt.Errorf("%w: no top-up expected for unchanged price", ErrInvalidAmount)
		}
		return PriceUnchanged, nil
	case 1:
		diff := new(big.Int).Sub(newDeposit, oldDeposit)
		if err := requireExactValue(value, diff, "deposit top-up"); err != nil {
			return PriceUnchanged, err
		}
		if err := e.transferValue(caller, VaultAddress(id), diff); err != nil {
			return PriceUnchanged, err
		}
		esc.Price = cloneBigInt(newPrice)
		if err := e.storeEscrow(esc); err != nil {
			return PriceUnchanged, err
		}
		e.emit(NewPriceChangedEvent(esc))
		return PriceIncreased, nil
	default:
		if attached.Sign() != 0 {
			return PriceUnchanged, fmt.Errorf("%w: no top-up expected for a price decrease", ErrInvalidAmount)
		}
		diff := new(big.Int).Sub(oldDeposit, newDeposit)
		if err := e.credit(id, esc.Seller, diff); err != nil {
			return PriceUnchanged, err
		}
		esc.Price = cloneBigInt(newPrice)
		if err := e.storeEscrow(esc); err != nil {
			return PriceUnchanged, err
		}
		e.emit(NewPriceChangedEvent(esc))
		return PriceDecreased, nil
	}
}
