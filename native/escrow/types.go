package escrow

import (
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Status represents the lifecycle states of a deposit-backed escrow.
type Status uint8

const (
	StatusWaitingBuyer Status = iota + 1
	StatusPendingConfirmation
	StatusCompleted
	StatusCancelled
)

// Deposit multipliers are compile-time constants: the seller bonds twice the
// listing price, the buyer bonds it once on top of the payment.
const (
	SellerDepositMultiplier uint64 = 2
	BuyerDepositMultiplier  uint64 = 1
)

// MinPrice is the lowest listing price accepted at construction or repricing,
// in the currency's smallest unit.
var MinPrice = big.NewInt(1)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusWaitingBuyer, StatusPendingConfirmation, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether the escrow can undergo further state transitions.
// Withdrawals of accrued credits stay possible forever, terminal or not.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) String() string {
	switch s {
	case StatusWaitingBuyer:
		return "waitingBuyer"
	case StatusPendingConfirmation:
		return "pendingConfirmation"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Escrow captures the state of a single trade managed by the engine. The
// identifier is the keccak256 hash of the seller, a caller-supplied nonce and
// the listing title, ensuring deterministic IDs without storing the nonce.
type Escrow struct {
	ID            [32]byte
	Seller        [20]byte
	Buyer         [20]byte // zero until a purchase commits; cleared on rejection
	Price         *big.Int
	Title         string
	Category      string
	ShipsFrom     string
	AttachedFiles string
	ContactInfo   []byte // opaque, expected to be encrypted by the buyer up front
	Status        Status
	CreatedAt     int64
	PurchasedAt   int64
	ConfirmedAt   int64
}

// HasBuyer reports whether a buyer is currently committed to the trade.
func (e *Escrow) HasBuyer() bool {
	return e != nil && e.Buyer != ([20]byte{})
}

// Clone returns a deep copy of the escrow object so callers can safely mutate
// the copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Price != nil {
		clone.Price = new(big.Int).Set(e.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	clone.ContactInfo = append([]byte(nil), e.ContactInfo...)
	return &clone
}

// SanitizeEscrow validates and normalises the supplied escrow record,
// returning a cloned instance with trimmed metadata. The function does not
// mutate the original value.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("nil escrow")
	}
	if e.Price == nil || e.Price.Sign() <= 0 {
		return nil, fmt.Errorf("escrow price must be a positive integer")
	}
	clone := e.Clone()
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid escrow status: %d", clone.Status)
	}
	clone.Title = strings.TrimSpace(clone.Title)
	clone.Category = strings.TrimSpace(clone.Category)
	clone.ShipsFrom = strings.TrimSpace(clone.ShipsFrom)
	clone.AttachedFiles = strings.TrimSpace(clone.AttachedFiles)
	return clone, nil
}

var vaultSalt = []byte("escrow-vault:")

// ComputeID derives the deterministic escrow identifier from the construction
// parameters.
func ComputeID(seller [20]byte, nonce [32]byte, title string) [32]byte {
	return ethcrypto.Keccak256Hash(seller[:], nonce[:], []byte(strings.TrimSpace(title)))
}

// VaultAddress derives the ledger account that holds an escrow's locked funds.
// No private key exists for it; only the engine moves value in or out.
func VaultAddress(id [32]byte) [20]byte {
	hash := ethcrypto.Keccak256(vaultSalt, id[:])
	var addr [20]byte
	copy(addr[:], hash[12:])
	return addr
}
