package core

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"escrowd/core/events"
	"escrowd/core/state"
	"escrowd/core/types"
	nativecommon "escrowd/native/common"
	"escrowd/native/escrow"
	"escrowd/storage"
)

const stateSchemaVersion uint64 = 1

// GenesisAlloc seeds an account balance the first time the node starts
// against an empty database. It stands in for the surrounding settlement
// layer funding accounts.
type GenesisAlloc struct {
	Address [20]byte
	Balance *big.Int
}

// Node executes escrow calls against the ledger. A single mutex serializes
// every mutating call, which gives each one the total order and atomicity the
// execution model requires: a call runs on a storage overlay and either the
// whole overlay commits or it is discarded, attached value included. Events
// are buffered during speculative execution and only reach the configured
// emitter after the overlay has committed.
type Node struct {
	mu             sync.Mutex
	db             storage.Database
	emitter        events.Emitter
	pauses         nativecommon.PauseView
	withdrawPolicy escrow.WithdrawPolicy
	nowFn          func() int64
	logger         *slog.Logger
}

// Option configures a Node at construction time.
type Option func(*Node)

// WithEmitter routes committed lifecycle events to the given emitter,
// typically the registry relay.
func WithEmitter(emitter events.Emitter) Option {
	return func(n *Node) {
		if emitter != nil {
			n.emitter = emitter
		}
	}
}

// WithPauses installs the administrative pause view.
func WithPauses(p nativecommon.PauseView) Option {
	return func(n *Node) { n.pauses = p }
}

// WithWithdrawPolicy selects the zero-balance withdrawal behaviour.
func WithWithdrawPolicy(policy escrow.WithdrawPolicy) Option {
	return func(n *Node) { n.withdrawPolicy = policy }
}

// WithNowFunc overrides the time source, primarily used in tests.
func WithNowFunc(now func() int64) Option {
	return func(n *Node) { n.nowFn = now }
}

// WithLogger sets the structured logger used for operator-facing diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewNode creates a ledger node on the given database and applies genesis
// allocations if the store has never been initialised.
func NewNode(db storage.Database, allocs []GenesisAlloc, opts ...Option) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database is required")
	}
	n := &Node{
		db:      db,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if err := n.seedGenesis(allocs); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) seedGenesis(allocs []GenesisAlloc) error {
	manager := state.NewManager(n.db)
	version, err := manager.SchemaVersion()
	if err != nil {
		return err
	}
	if version != 0 {
		return nil
	}
	for _, alloc := range allocs {
		if alloc.Balance == nil || alloc.Balance.Sign() <= 0 {
			continue
		}
		account, err := manager.GetAccount(alloc.Address)
		if err != nil {
			return err
		}
		account.Balance = new(big.Int).Add(account.Balance, alloc.Balance)
		if err := manager.PutAccount(alloc.Address, account); err != nil {
			return err
		}
	}
	return manager.SetSchemaVersion(stateSchemaVersion)
}

// captureEmitter buffers events during speculative execution so they are only
// published once the overlay commits.
type captureEmitter struct {
	buffered []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.buffered = append(c.buffered, evt)
}

func (c *captureEmitter) flush(into events.Emitter) {
	for _, evt := range c.buffered {
		into.Emit(evt)
	}
	c.buffered = nil
}

func (n *Node) newEngine(manager *state.Manager, capture events.Emitter) *escrow.Engine {
	eng := escrow.NewEngine()
	eng.SetState(manager)
	eng.SetEmitter(capture)
	eng.SetPauses(n.pauses)
	eng.SetWithdrawPolicy(n.withdrawPolicy)
	if n.nowFn != nil {
		eng.SetNowFunc(n.nowFn)
	}
	return eng
}

// execute runs fn as one atomic ledger call made by caller. The caller's
// account nonce advances with the call, inside the same overlay, so it counts
// the mutating calls that actually committed.
func (n *Node) execute(caller [20]byte, fn func(*escrow.Engine) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	overlay := storage.NewOverlay(n.db)
	capture := &captureEmitter{}
	manager := state.NewManager(overlay)
	eng := n.newEngine(manager, capture)
	if err := fn(eng); err != nil {
		overlay.Discard()
		if escrow.IsFault(err) {
			n.logger.Error("escrow engine fault", slog.Any("error", err))
		}
		return err
	}
	if err := bumpNonce(manager, caller); err != nil {
		overlay.Discard()
		return err
	}
	if err := overlay.Commit(); err != nil {
		return err
	}
	capture.flush(n.emitter)
	return nil
}

func bumpNonce(manager *state.Manager, caller [20]byte) error {
	account, err := manager.GetAccount(caller)
	if err != nil {
		return err
	}
	account.Nonce++
	return manager.PutAccount(caller, account)
}

// view runs fn against committed state without allowing writes to land.
func (n *Node) view(fn func(*escrow.Engine) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	overlay := storage.NewOverlay(n.db)
	eng := n.newEngine(state.NewManager(overlay), events.NoopEmitter{})
	err := fn(eng)
	overlay.Discard()
	return err
}

// CreateEscrow constructs a new escrow through the factory, escrowing the
// seller's deposit atomically with construction.
func (n *Node) CreateEscrow(seller [20]byte, params escrow.CreateParams, value *big.Int) (*escrow.Escrow, error) {
	var created *escrow.Escrow
	err := n.execute(seller, func(eng *escrow.Engine) error {
		var innerErr error
		created, innerErr = escrow.NewFactory(eng).Deploy(seller, params, value)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreateEscrowDefault is the legacy compatibility path for clients that
// cannot pass construction arguments. Not for production use.
func (n *Node) CreateEscrowDefault(seller [20]byte, nonce [32]byte, value *big.Int) (*escrow.Escrow, error) {
	var created *escrow.Escrow
	err := n.execute(seller, func(eng *escrow.Engine) error {
		var innerErr error
		created, innerErr = escrow.NewFactory(eng).DeployDefault(seller, nonce, value)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// SetPrice reprices an unsold listing, reconciling the escrowed deposit.
func (n *Node) SetPrice(id [32]byte, caller [20]byte, newPrice, value *big.Int) (escrow.PriceOutcome, error) {
	outcome := escrow.PriceUnchanged
	err := n.execute(caller, func(eng *escrow.Engine) error {
		var innerErr error
		outcome, innerErr = eng.SetPrice(id, caller, newPrice, value)
		return innerErr
	})
	return outcome, err
}

// SetTitle renames the listing.
func (n *Node) SetTitle(id [32]byte, caller [20]byte, title string) error {
	return n.execute(caller, func(eng *escrow.Engine) error {
		return eng.SetTitle(id, caller, title)
	})
}

// SetCategory updates the listing category.
func (n *Node) SetCategory(id [32]byte, caller [20]byte, category string) error {
	return n.execute(caller, func(eng *escrow.Engine) error {
		return eng.SetCategory(id, caller, category)
	})
}

// SetShipsFrom updates the declared shipping origin.
func (n *Node) SetShipsFrom(id [32]byte, caller [20]byte, shipsFrom string) error {
	return n.execute(caller, func(eng *escrow.Engine) error {
		return eng.SetShipsFrom(id, caller, shipsFrom)
	})
}

// SetAttachedFiles updates the attached-files content reference.
func (n *Node) SetAttachedFiles(id [32]byte, caller [20]byte, cid string) error {
	return n.execute(caller, func(eng *escrow.Engine) error {
		return eng.SetAttachedFiles(id, caller, cid)
	})
}

// Purchase commits the caller as buyer with the attached deposit and payment.
func (n *Node) Purchase(id [32]byte, caller [20]byte, contactInfo []byte, value *big.Int) error {
	return n.execute(caller, func(eng *escrow.Engine) error {
		return eng.Purchase(id, caller, contactInfo, value)
	})
}

// Confirm settles the trade in the seller's favour.
func (n *Node) Confirm(id [32]byte, caller [20]byte) error {
	return n.execute(caller, func(eng *escrow.Engine) error {
		return eng.Confirm(id, caller)
	})
}

// RejectBuyer declines the committed buyer and relists the offer.
func (n *Node) RejectBuyer(id [32]byte, caller [20]byte) error {
	return n.execute(caller, func(eng *escrow.Engine) error {
		return eng.RejectBuyer(id, caller)
	})
}

// Cancel withdraws the listing for good.
func (n *Node) Cancel(id [32]byte, caller [20]byte) error {
	return n.execute(caller, func(eng *escrow.Engine) error {
		return eng.Cancel(id, caller)
	})
}

// Withdraw collects the caller's accrued credit and returns the amount moved.
func (n *Node) Withdraw(id [32]byte, caller [20]byte) (*big.Int, error) {
	var amount *big.Int
	err := n.execute(caller, func(eng *escrow.Engine) error {
		var innerErr error
		amount, innerErr = eng.Withdraw(id, caller)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

// GetEscrow returns a copy of the escrow record.
func (n *Node) GetEscrow(id [32]byte) (*escrow.Escrow, error) {
	var esc *escrow.Escrow
	err := n.view(func(eng *escrow.Engine) error {
		var innerErr error
		esc, innerErr = eng.Get(id)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return esc, nil
}

// ContactInfo returns the buyer-supplied contact blob, guarded by the
// advisory party check.
func (n *Node) ContactInfo(id [32]byte, caller [20]byte) ([]byte, error) {
	var blob []byte
	err := n.view(func(eng *escrow.Engine) error {
		var innerErr error
		blob, innerErr = eng.ContactInfo(id, caller)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return blob, nil
}

// PendingBalance reports the credit withdrawable by an account for an escrow.
func (n *Node) PendingBalance(id [32]byte, account [20]byte) (*big.Int, error) {
	var amount *big.Int
	err := n.view(func(eng *escrow.Engine) error {
		var innerErr error
		amount, innerErr = eng.PendingBalance(id, account)
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

// GetAccount reports the ledger account for an address.
func (n *Node) GetAccount(addr [20]byte) (*types.Account, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return state.NewManager(n.db).GetAccount(addr)
}
