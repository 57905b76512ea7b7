package state

import (
	"math/big"
	"testing"

	"escrowd/core/types"
	"escrowd/native/escrow"
	"escrowd/storage"
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func testID(fill byte) [32]byte {
	var id [32]byte
	id[0] = fill
	return id
}

func TestAccountRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	addr := testAddr(0x01)

	// Absent accounts read as zero accounts.
	acc, err := manager.GetAccount(addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acc.Nonce != 0 || acc.Balance.Sign() != 0 {
		t.Fatalf("zero account = %+v", acc)
	}

	acc.Nonce = 7
	acc.Balance = big.NewInt(12345)
	if err := manager.PutAccount(addr, acc); err != nil {
		t.Fatalf("put: %v", err)
	}
	loaded, err := manager.GetAccount(addr)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Nonce != 7 || loaded.Balance.Cmp(big.NewInt(12345)) != 0 {
		t.Fatalf("loaded = %+v", loaded)
	}
}

func TestPutAccountRejectsNegativeBalance(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	err := manager.PutAccount(testAddr(0x01), &types.Account{Balance: big.NewInt(-1)})
	if err == nil {
		t.Fatalf("negative balance accepted")
	}
}

func TestEscrowRoundTrip(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	record := &escrow.Escrow{
		ID:          testID(0x01),
		Seller:      testAddr(0x01),
		Buyer:       testAddr(0x02),
		Price:       big.NewInt(250),
		Title:       "lamp",
		Category:    "lighting",
		ShipsFrom:   "SE",
		ContactInfo: []byte("blob"),
		Status:      escrow.StatusPendingConfirmation,
		CreatedAt:   1_700_000_000,
		PurchasedAt: 1_700_000_100,
	}
	if err := manager.EscrowPut(record); err != nil {
		t.Fatalf("put: %v", err)
	}

	loaded, ok := manager.EscrowGet(testID(0x01))
	if !ok {
		t.Fatalf("escrow not found after put")
	}
	if loaded.Price.Cmp(record.Price) != 0 || loaded.Title != record.Title || loaded.Status != record.Status {
		t.Fatalf("loaded = %+v", loaded)
	}
	if loaded.Seller != record.Seller || loaded.Buyer != record.Buyer {
		t.Fatalf("parties mangled: %+v", loaded)
	}
	if string(loaded.ContactInfo) != "blob" {
		t.Fatalf("contact info = %q", loaded.ContactInfo)
	}
	if loaded.CreatedAt != record.CreatedAt || loaded.PurchasedAt != record.PurchasedAt {
		t.Fatalf("timestamps mangled: %+v", loaded)
	}

	if _, ok := manager.EscrowGet(testID(0x02)); ok {
		t.Fatalf("unknown id reported found")
	}
}

func TestEscrowPutSanitizes(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	bad := &escrow.Escrow{
		ID:     testID(0x01),
		Seller: testAddr(0x01),
		Price:  big.NewInt(10),
		Title:  "lamp",
		Status: escrow.Status(99),
	}
	if err := manager.EscrowPut(bad); err == nil {
		t.Fatalf("invalid status accepted")
	}
}

func TestPendingLedgerAccumulatesAndClears(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	id := testID(0x01)
	addr := testAddr(0x01)

	amount, err := manager.PendingGet(id, addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if amount.Sign() != 0 {
		t.Fatalf("fresh ledger = %s", amount)
	}

	if err := manager.PendingAdd(id, addr, big.NewInt(100)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := manager.PendingAdd(id, addr, big.NewInt(50)); err != nil {
		t.Fatalf("second add: %v", err)
	}
	amount, _ = manager.PendingGet(id, addr)
	if amount.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("accumulated = %s, want 150", amount)
	}

	if err := manager.PendingAdd(id, addr, big.NewInt(0)); err == nil {
		t.Fatalf("zero credit accepted")
	}
	if err := manager.PendingAdd(id, addr, big.NewInt(-5)); err == nil {
		t.Fatalf("negative credit accepted")
	}

	if err := manager.PendingClear(id, addr); err != nil {
		t.Fatalf("clear: %v", err)
	}
	amount, _ = manager.PendingGet(id, addr)
	if amount.Sign() != 0 {
		t.Fatalf("after clear = %s", amount)
	}

	// Ledger entries are scoped per escrow and per account.
	if err := manager.PendingAdd(id, addr, big.NewInt(10)); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	other, _ := manager.PendingGet(testID(0x02), addr)
	if other.Sign() != 0 {
		t.Fatalf("credit leaked across escrows: %s", other)
	}
	other, _ = manager.PendingGet(id, testAddr(0x02))
	if other.Sign() != 0 {
		t.Fatalf("credit leaked across accounts: %s", other)
	}
}

func TestSchemaVersion(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	version, err := manager.SchemaVersion()
	if err != nil {
		t.Fatalf("initial: %v", err)
	}
	if version != 0 {
		t.Fatalf("fresh schema version = %d", version)
	}
	if err := manager.SetSchemaVersion(1); err != nil {
		t.Fatalf("set: %v", err)
	}
	version, _ = manager.SchemaVersion()
	if version != 1 {
		t.Fatalf("schema version = %d, want 1", version)
	}
}
