package escrow

import (
	"fmt"
	"math/big"
)

// CreateParams bundles the construction arguments forwarded by the factory.
type CreateParams struct {
	Price     *big.Int
	Title     string
	Category  string
	ShipsFrom string
	Nonce     [32]byte
}

// Factory instantiates new escrows. It forwards the construction parameters
// and the attached currency to the engine unchanged and holds no state of its
// own; the engine never calls back into it.
type Factory struct {
	engine *Engine
}

// NewFactory binds a factory to the escrow engine.
func NewFactory(engine *Engine) *Factory {
	return &Factory{engine: engine}
}

// Deploy constructs a new escrow for the seller, escrowing the attached value
// as the seller's deposit.
func (f *Factory) Deploy(seller [20]byte, params CreateParams, value *big.Int) (*Escrow, error) {
	if f == nil || f.engine == nil {
		return nil, faultf("Deploy", "factory engine not configured")
	}
	return f.engine.Create(seller, params.Price, params.Title, params.Category, params.ShipsFrom, params.Nonce, value)
}

// DeployDefault is a compatibility shim for constrained clients that cannot
// pass construction arguments: the price is inferred as half the attached
// value and the listing gets placeholder metadata. It is unsuitable for
// production listings and carries no correctness guarantees beyond Deploy's.
func (f *Factory) DeployDefault(seller [20]byte, nonce [32]byte, value *big.Int) (*Escrow, error) {
	if f == nil || f.engine == nil {
		return nil, faultf("DeployDefault", "factory engine not configured")
	}
	attached := cloneBigInt(value)
	price, rem := new(big.Int).QuoRem(attached, new(big.Int).SetUint64(SellerDepositMultiplier), new(big.Int))
	if rem.Sign() != 0 {
		return nil, fmt.Errorf("%w: attached value %s is not a whole deposit", ErrInvalidAmount, attached)
	}
	params := CreateParams{
		Price: price,
		Title: "unnamed listing",
		Nonce: nonce,
	}
	return f.Deploy(seller, params, value)
}
