package escrow

import (
	"errors"
	"math/big"
	"testing"
)

func TestComputeIDDeterministic(t *testing.T) {
	seller := newTestAddress(0x01)
	id := ComputeID(seller, testNonce(0x05), "lamp")
	if id != ComputeID(seller, testNonce(0x05), "lamp") {
		t.Fatalf("same inputs produced different ids")
	}
	if id == ComputeID(seller, testNonce(0x06), "lamp") {
		t.Fatalf("nonce not part of the id")
	}
	if id == ComputeID(seller, testNonce(0x05), "chair") {
		t.Fatalf("title not part of the id")
	}
	if id == ComputeID(newTestAddress(0x02), testNonce(0x05), "lamp") {
		t.Fatalf("seller not part of the id")
	}
}

func TestVaultAddressDerivation(t *testing.T) {
	first := VaultAddress(testNonce(0x01))
	second := VaultAddress(testNonce(0x02))
	if first == second {
		t.Fatalf("distinct ids share a vault")
	}
	if first != VaultAddress(testNonce(0x01)) {
		t.Fatalf("vault address not deterministic")
	}
	if first == ([20]byte{}) {
		t.Fatalf("vault address is zero")
	}
}

func TestStatusStrings(t *testing.T) {
	cases := map[Status]string{
		StatusWaitingBuyer:        "waitingBuyer",
		StatusPendingConfirmation: "pendingConfirmation",
		StatusCompleted:           "completed",
		StatusCancelled:           "cancelled",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Fatalf("Status(%d).String() = %q, want %q", status, got, want)
		}
		if !status.Valid() {
			t.Fatalf("status %s reported invalid", want)
		}
	}
	if Status(0).Valid() || Status(99).Valid() {
		t.Fatalf("out-of-range status reported valid")
	}
	if !StatusCompleted.Terminal() || !StatusCancelled.Terminal() {
		t.Fatalf("terminal statuses misreported")
	}
	if StatusWaitingBuyer.Terminal() || StatusPendingConfirmation.Terminal() {
		t.Fatalf("live statuses reported terminal")
	}
}

func TestSanitizeEscrowRejectsBadRecords(t *testing.T) {
	base := &Escrow{
		ID:     testNonce(0x01),
		Seller: newTestAddress(0x01),
		Price:  big.NewInt(10),
		Title:  "lamp",
		Status: StatusWaitingBuyer,
	}
	if _, err := SanitizeEscrow(base); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}

	badStatus := base.Clone()
	badStatus.Status = Status(42)
	if _, err := SanitizeEscrow(badStatus); err == nil {
		t.Fatalf("invalid status accepted")
	}

	badPrice := base.Clone()
	badPrice.Price = nil
	if _, err := SanitizeEscrow(badPrice); err == nil {
		t.Fatalf("nil price accepted")
	}

	zeroPrice := base.Clone()
	zeroPrice.Price = big.NewInt(0)
	if _, err := SanitizeEscrow(zeroPrice); err == nil {
		t.Fatalf("zero price accepted")
	}
}

func TestDepositMath(t *testing.T) {
	price := big.NewInt(100)

	sellerDep, err := SellerDeposit(price)
	if err != nil || sellerDep.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("SellerDeposit = %s, %v", sellerDep, err)
	}
	buyerDep, err := BuyerDeposit(price)
	if err != nil || buyerDep.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("BuyerDeposit = %s, %v", buyerDep, err)
	}
	buyerTotal, err := BuyerDepositWithPayment(price)
	if err != nil || buyerTotal.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("BuyerDepositWithPayment = %s, %v", buyerTotal, err)
	}
	sellerTotal, err := SellerDepositWithPayment(price)
	if err != nil || sellerTotal.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("SellerDepositWithPayment = %s, %v", sellerTotal, err)
	}
}

func TestDepositMathOverflow(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 255)
	if _, err := SellerDeposit(huge); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	boundary := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))
	if _, err := SellerDeposit(boundary); err != nil {
		t.Fatalf("in-range product rejected: %v", err)
	}
}
