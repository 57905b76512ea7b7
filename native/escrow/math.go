package escrow

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Deposit amounts are products of the price and a small multiplier. The ledger
// domain is the unsigned 256-bit integer range; every price-dependent product
// is recomputed and overflow-checked at the point of use.

func mulChecked(op string, price *big.Int, multiplier uint64) (*big.Int, error) {
	if multiplier == 0 {
		return nil, faultf(op, "deposit multiplier is zero")
	}
	if price == nil || price.Sign() < 0 {
		return nil, fmt.Errorf("%w: price must be a non-negative integer", ErrInvalidAmount)
	}
	p, overflow := uint256.FromBig(price)
	if overflow {
		return nil, fmt.Errorf("%w: price %s", ErrOverflow, price)
	}
	product, overflow := new(uint256.Int).MulOverflow(p, uint256.NewInt(multiplier))
	if overflow {
		return nil, fmt.Errorf("%w: %s * %d", ErrOverflow, price, multiplier)
	}
	return product.ToBig(), nil
}

// SellerDeposit returns the trust bond the seller escrows at construction.
func SellerDeposit(price *big.Int) (*big.Int, error) {
	return mulChecked("SellerDeposit", price, SellerDepositMultiplier)
}

// BuyerDeposit returns the trust bond portion of the buyer's payment.
func BuyerDeposit(price *big.Int) (*big.Int, error) {
	return mulChecked("BuyerDeposit", price, BuyerDepositMultiplier)
}

// BuyerDepositWithPayment returns the amount a buyer must attach to purchase:
// the deposit plus the price itself.
func BuyerDepositWithPayment(price *big.Int) (*big.Int, error) {
	return mulChecked("BuyerDepositWithPayment", price, BuyerDepositMultiplier+1)
}

// SellerDepositWithPayment returns the amount credited to the seller on
// confirmation: the refunded deposit plus the earned price.
func SellerDepositWithPayment(price *big.Int) (*big.Int, error) {
	return mulChecked("SellerDepositWithPayment", price, SellerDepositMultiplier+1)
}
