package escrow

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"escrowd/core/events"
	"escrowd/core/types"
	nativecommon "escrowd/native/common"
)

const moduleName = "escrow"

// WithdrawPolicy selects how Withdraw treats a zero pending balance. Clients
// disagree on whether polling withdraw unconditionally should fail, so the
// behaviour is configurable per deployment.
type WithdrawPolicy uint8

const (
	// WithdrawRejectZero aborts a withdrawal when nothing is owed (default).
	WithdrawRejectZero WithdrawPolicy = iota
	// WithdrawAllowZero lets a zero-balance withdrawal succeed as a no-op
	// transfer of zero.
	WithdrawAllowZero
)

type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id [32]byte) (*Escrow, bool)
	PendingGet(id [32]byte, addr [20]byte) (*big.Int, error)
	PendingAdd(id [32]byte, addr [20]byte, amount *big.Int) error
	PendingClear(id [32]byte, addr [20]byte) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine wires the escrow business logic with external state and event
// emitters. All mutating operations are guard-then-effect: any failed
// precondition returns before the first state write, so the surrounding
// atomic execution discards nothing but an untouched overlay.
type Engine struct {
	state          engineState
	emitter        events.Emitter
	nowFn          func() int64
	pauses         nativecommon.PauseView
	withdrawPolicy WithdrawPolicy
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetPauses configures the administrative pause view consulted by mutating
// operations.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetWithdrawPolicy selects the zero-balance withdrawal behaviour.
func (e *Engine) SetWithdrawPolicy(policy WithdrawPolicy) { e.withdrawPolicy = policy }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

func (e *Engine) loadEscrow(id [32]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, faultf("loadEscrow", "state not configured")
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrNotFound, id)
	}
	return esc, nil
}

func (e *Engine) storeEscrow(esc *Escrow) error {
	if e == nil || e.state == nil {
		return faultf("storeEscrow", "state not configured")
	}
	return e.state.EscrowPut(esc)
}

// transferValue moves currency between ledger accounts. Attached call value
// enters the vault through here and leaves it only through Withdraw.
func (e *Engine) transferValue(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return faultf("transferValue", "state not configured")
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return faultf("transferValue", "negative transfer amount %s", amt)
	}
	fromAcc, err := e.state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return fmt.Errorf("%w: insufficient balance for transfer of %s", ErrInvalidAmount, amt)
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}

// credit records value owed to an account in the pull-payment ledger. The
// amount accumulates with any prior credit; nothing is transferred until the
// account calls Withdraw.
func (e *Engine) credit(id [32]byte, account [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return faultf("credit", "credit amount must be non-negative")
	}
	if amount.Sign() == 0 {
		return nil
	}
	return e.state.PendingAdd(id, account, amount)
}

// requireExactValue enforces the attached-currency guard common to every
// value-bearing operation.
func requireExactValue(value, required *big.Int, what string) error {
	attached := cloneBigInt(value)
	if attached.Cmp(required) != 0 {
		return fmt.Errorf("%w: %s requires exactly %s attached, got %s", ErrInvalidAmount, what, required, attached)
	}
	return nil
}

// Create initialises a new escrow, locking the seller's deposit atomically
// with construction. The attached value must equal exactly twice the price.
func (e *Engine) Create(seller [20]byte, price *big.Int, title, category, shipsFrom string, nonce [32]byte, value *big.Int) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, faultf("Create", "state not configured")
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, err)
	}
	if price == nil || price.Cmp(MinPrice) < 0 {
		return nil, fmt.Errorf("%w: price below minimum %s", ErrInvalidAmount, MinPrice)
	}
	sellerDeposit, err := SellerDeposit(price)
	if err != nil {
		return nil, err
	}
	trimmedTitle := strings.TrimSpace(title)
	if trimmedTitle == "" {
		return nil, fmt.Errorf("%w: title", ErrEmptyField)
	}
	if err := requireExactValue(value, sellerDeposit, "construction"); err != nil {
		return nil, err
	}
	id := ComputeID(seller, nonce, trimmedTitle)
	if _, ok := e.state.EscrowGet(id); ok {
		return nil, fmt.Errorf("%w: identifier already exists", ErrInvalidState)
	}
	if err := e.transferValue(seller, VaultAddress(id), sellerDeposit); err != nil {
		return nil, err
	}
	esc := &Escrow{
		ID:        id,
		Seller:    seller,
		Price:     cloneBigInt(price),
		Title:     trimmedTitle,
		Category:  strings.TrimSpace(category),
		ShipsFrom: strings.TrimSpace(shipsFrom),
		Status:    StatusWaitingBuyer,
		CreatedAt: e.now(),
	}
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(esc))
	return esc.Clone(), nil
}

// Purchase commits a buyer to the trade. The attached value must equal the
// buyer's deposit plus the price; the contact blob is stored opaque.
func (e *Engine) Purchase(id [32]byte, caller [20]byte, contactInfo []byte, value *big.Int) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidState, err)
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusWaitingBuyer {
		return fmt.Errorf("%w: cannot purchase in status %s", ErrInvalidState, esc.Status)
	}
	if caller == esc.Seller {
		return fmt.Errorf("%w: seller cannot purchase own listing", ErrUnauthorized)
	}
	required, err := BuyerDepositWithPayment(esc.Price)
	if err != nil {
		return err
	}
	if err := requireExactValue(value, required, "purchase"); err != nil {
		return err
	}
	if err := e.transferValue(caller, VaultAddress(id), required); err != nil {
		return err
	}
	esc.Buyer = caller
	esc.ContactInfo = append([]byte(nil), contactInfo...)
	esc.PurchasedAt = e.now()
	esc.Status = StatusPendingConfirmation
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewBoughtEvent(esc))
	return nil
}

// Confirm settles the trade in the seller's favour. The seller is credited the
// refunded deposit plus the earned price; the buyer is credited the deposit
// only. Terminal.
func (e *Engine) Confirm(id [32]byte, caller [20]byte) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidState, err)
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusPendingConfirmation {
		return fmt.Errorf("%w: cannot confirm in status %s", ErrInvalidState, esc.Status)
	}
	if !esc.HasBuyer() {
		return faultf("Confirm", "pending confirmation without a buyer")
	}
	if caller != esc.Buyer {
		return fmt.Errorf("%w: only the buyer may confirm", ErrUnauthorized)
	}
	sellerCredit, err := SellerDepositWithPayment(esc.Price)
	if err != nil {
		return err
	}
	buyerCredit, err := BuyerDeposit(esc.Price)
	if err != nil {
		return err
	}
	if err := e.credit(id, esc.Seller, sellerCredit); err != nil {
		return err
	}
	if err := e.credit(id, esc.Buyer, buyerCredit); err != nil {
		return err
	}
	esc.ConfirmedAt = e.now()
	esc.Status = StatusCompleted
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewCompletedEvent(esc))
	return nil
}

// releaseBuyer credits the committed buyer the full deposit-plus-payment and
// strips the purchase from the record. Shared by RejectBuyer and Cancel; the
// caller decides the resulting status and persists the record.
func (e *Engine) releaseBuyer(esc *Escrow) error {
	if !esc.HasBuyer() {
		return faultf("releaseBuyer", "no buyer to release")
	}
	refund, err := BuyerDepositWithPayment(esc.Price)
	if err != nil {
		return err
	}
	if err := e.credit(esc.ID, esc.Buyer, refund); err != nil {
		return err
	}
	esc.Buyer = [20]byte{}
	esc.ContactInfo = nil
	esc.PurchasedAt = 0
	return nil
}

// RejectBuyer lets the seller decline the committed buyer. The buyer is
// credited the full deposit plus payment, the purchase is cleared and the
// offer is relisted.
func (e *Engine) RejectBuyer(id [32]byte, caller [20]byte) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidState, err)
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusPendingConfirmation {
		return fmt.Errorf("%w: cannot reject buyer in status %s", ErrInvalidState, esc.Status)
	}
	if caller != esc.Seller {
		return fmt.Errorf("%w: only the seller may reject the buyer", ErrUnauthorized)
	}
	if err := e.releaseBuyer(esc); err != nil {
		return err
	}
	esc.Status = StatusWaitingBuyer
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewBuyerRejectedEvent(esc))
	return nil
}

// Cancel withdraws the listing. From WaitingBuyer the seller's deposit is
// credited back; from PendingConfirmation the committed buyer is additionally
// released in full first, then the escrow goes directly to Cancelled without
// passing through WaitingBuyer. The seller is credited exactly once.
func (e *Engine) Cancel(id [32]byte, caller [20]byte) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidState, err)
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.Status != StatusWaitingBuyer && esc.Status != StatusPendingConfirmation {
		return fmt.Errorf("%w: cannot cancel in status %s", ErrInvalidState, esc.Status)
	}
	if caller != esc.Seller {
		return fmt.Errorf("%w: only the seller may cancel", ErrUnauthorized)
	}
	if esc.Status == StatusPendingConfirmation {
		if err := e.releaseBuyer(esc); err != nil {
			return err
		}
	}
	sellerDeposit, err := SellerDeposit(esc.Price)
	if err != nil {
		return err
	}
	if err := e.credit(id, esc.Seller, sellerDeposit); err != nil {
		return err
	}
	esc.Status = StatusCancelled
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(esc))
	return nil
}

// Withdraw collects the caller's accrued credit: the balance is read, zeroed,
// and only then transferred out of the vault, so a re-entered withdrawal
// observes zero and a re-entered mutating call observes the updated ledger.
// Withdrawals are deliberately not pause-guarded so funds are never trapped,
// and they never change the escrow status.
func (e *Engine) Withdraw(id [32]byte, caller [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, faultf("Withdraw", "state not configured")
	}
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	amount, err := e.state.PendingGet(id, caller)
	if err != nil {
		return nil, err
	}
	amount = cloneBigInt(amount)
	if amount.Sign() == 0 {
		if e.withdrawPolicy == WithdrawAllowZero {
			return big.NewInt(0), nil
		}
		return nil, fmt.Errorf("%w: no pending balance to withdraw", ErrInvalidAmount)
	}
	if err := e.state.PendingClear(id, caller); err != nil {
		return nil, err
	}
	if err := e.transferValue(VaultAddress(esc.ID), caller, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// ContactInfo returns the buyer-supplied contact blob. The check is advisory:
// state is public to anyone with ledger access, which is why the blob must be
// encrypted before submission.
func (e *Engine) ContactInfo(id [32]byte, caller [20]byte) ([]byte, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	if esc.Status != StatusPendingConfirmation && esc.Status != StatusCompleted {
		return nil, fmt.Errorf("%w: contact info unavailable in status %s", ErrInvalidState, esc.Status)
	}
	if caller != esc.Seller && !(esc.HasBuyer() && caller == esc.Buyer) {
		return nil, fmt.Errorf("%w: contact info restricted to trade parties", ErrUnauthorized)
	}
	return append([]byte(nil), esc.ContactInfo...), nil
}

// Get returns a copy of the escrow record.
func (e *Engine) Get(id [32]byte) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

// PendingBalance reports the credit currently withdrawable by an account.
func (e *Engine) PendingBalance(id [32]byte, account [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, faultf("PendingBalance", "state not configured")
	}
	if _, err := e.loadEscrow(id); err != nil {
		return nil, err
	}
	amount, err := e.state.PendingGet(id, account)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(amount), nil
}
