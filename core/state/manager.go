package state

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"escrowd/core/types"
	"escrowd/native/escrow"
	"escrowd/storage"
)

// Manager reads and writes ledger state through a key-value backend. Keys are
// keccak256 hashes of a prefixed raw key; values are RLP encoded. It
// implements the escrow engine's state interface, so handing the engine a
// manager bound to a storage overlay makes every call speculative until the
// overlay commits.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided backend.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func accountKey(addr [20]byte) []byte {
	return ethcrypto.Keccak256(accountPrefix, addr[:])
}

func escrowKey(id [32]byte) []byte {
	return ethcrypto.Keccak256(escrowPrefix, id[:])
}

func pendingKey(id [32]byte, addr [20]byte) []byte {
	return ethcrypto.Keccak256(pendingPrefix, id[:], addr[:])
}

func schemaKey() []byte {
	return ethcrypto.Keccak256(schemaKeyRaw)
}

func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %x: %w", key, err)
	}
	return true, nil
}

func (m *Manager) put(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %x: %w", key, err)
	}
	return m.db.Put(key, encoded)
}

// --- accounts ---

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

// GetAccount loads the account for an address, returning a zero-balance
// account when none has been recorded yet.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	var stored storedAccount
	ok, err := m.get(accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	balance := stored.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	return &types.Account{Nonce: stored.Nonce, Balance: balance}, nil
}

// PutAccount persists the account record for an address.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return fmt.Errorf("state: nil account for %x", addr)
	}
	balance := account.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	if balance.Sign() < 0 {
		return fmt.Errorf("state: negative balance for %x", addr)
	}
	return m.put(accountKey(addr), &storedAccount{Nonce: account.Nonce, Balance: balance})
}

// --- escrow records ---

type storedEscrow struct {
	Seller        [20]byte
	Buyer         [20]byte
	Price         *big.Int
	Title         string
	Category      string
	ShipsFrom     string
	AttachedFiles string
	ContactInfo   []byte
	Status        uint8
	CreatedAt     uint64
	PurchasedAt   uint64
	ConfirmedAt   uint64
}

// EscrowPut persists a sanitized copy of the escrow record.
func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	stored := &storedEscrow{
		Seller:        sanitized.Seller,
		Buyer:         sanitized.Buyer,
		Price:         sanitized.Price,
		Title:         sanitized.Title,
		Category:      sanitized.Category,
		ShipsFrom:     sanitized.ShipsFrom,
		AttachedFiles: sanitized.AttachedFiles,
		ContactInfo:   sanitized.ContactInfo,
		Status:        uint8(sanitized.Status),
		CreatedAt:     uint64(sanitized.CreatedAt),
		PurchasedAt:   uint64(sanitized.PurchasedAt),
		ConfirmedAt:   uint64(sanitized.ConfirmedAt),
	}
	return m.put(escrowKey(sanitized.ID), stored)
}

// EscrowGet loads an escrow record by identifier.
func (m *Manager) EscrowGet(id [32]byte) (*escrow.Escrow, bool) {
	var stored storedEscrow
	ok, err := m.get(escrowKey(id), &stored)
	if err != nil || !ok {
		return nil, false
	}
	return &escrow.Escrow{
		ID:            id,
		Seller:        stored.Seller,
		Buyer:         stored.Buyer,
		Price:         stored.Price,
		Title:         stored.Title,
		Category:      stored.Category,
		ShipsFrom:     stored.ShipsFrom,
		AttachedFiles: stored.AttachedFiles,
		ContactInfo:   stored.ContactInfo,
		Status:        escrow.Status(stored.Status),
		CreatedAt:     int64(stored.CreatedAt),
		PurchasedAt:   int64(stored.PurchasedAt),
		ConfirmedAt:   int64(stored.ConfirmedAt),
	}, true
}

// --- pending withdrawal ledger ---

type storedCredit struct {
	Amount *big.Int
}

// PendingGet reports the credit currently owed to an account for an escrow.
func (m *Manager) PendingGet(id [32]byte, addr [20]byte) (*big.Int, error) {
	var stored storedCredit
	ok, err := m.get(pendingKey(id, addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok || stored.Amount == nil {
		return big.NewInt(0), nil
	}
	return stored.Amount, nil
}

// PendingAdd accumulates a credit in the pull-payment ledger. Credits only
// grow here; they reset solely through PendingClear during the owning
// account's withdrawal.
func (m *Manager) PendingAdd(id [32]byte, addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: credit amount must be positive")
	}
	current, err := m.PendingGet(id, addr)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(current, amount)
	return m.put(pendingKey(id, addr), &storedCredit{Amount: next})
}

// PendingClear zeroes the credit owed to an account.
func (m *Manager) PendingClear(id [32]byte, addr [20]byte) error {
	return m.db.Delete(pendingKey(id, addr))
}

// --- schema / genesis ---

// SchemaVersion reports the recorded state schema version; zero means the
// store has never been initialised.
func (m *Manager) SchemaVersion() (uint64, error) {
	var version uint64
	ok, err := m.get(schemaKey(), &version)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return version, nil
}

// SetSchemaVersion records the state schema version.
func (m *Manager) SetSchemaVersion(version uint64) error {
	return m.put(schemaKey(), version)
}
