package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/umix-labs/umix-core/pkg/exchange/types"
)

// Domain is the EIP-712 domain separator binding signed orders to one
// matcher deployment and one chain, preventing cross-contract and
// cross-chain replay.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain returns the matcher's domain for the given chain and
// verifying address.
func DefaultDomain(chainID int64, verifyingContract common.Address) Domain {
	return Domain{
		Name:              "OrderMatcher",
		Version:           "1",
		ChainID:           big.NewInt(chainID),
		VerifyingContract: verifyingContract,
	}
}

// orderTypes is the EIP-712 type set for a signed order. Field order is
// part of the hash; do not reorder.
var orderTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Order": []apitypes.Type{
		{Name: "trader", Type: "address"},
		{Name: "baseToken", Type: "address"},
		{Name: "quoteToken", Type: "address"},
		{Name: "price", Type: "uint256"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "isBuy", Type: "bool"},
	},
}

// TypedSigner hashes and signs orders under one EIP-712 domain.
type TypedSigner struct {
	domain Domain
}

// NewTypedSigner creates a TypedSigner for the given domain.
func NewTypedSigner(domain Domain) *TypedSigner {
	return &TypedSigner{domain: domain}
}

func (t *TypedSigner) typedData(order *types.SignedOrder) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       orderTypes,
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              t.domain.Name,
			Version:           t.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(t.domain.ChainID),
			VerifyingContract: t.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"trader":     order.Trader.Hex(),
			"baseToken":  order.BaseToken.Hex(),
			"quoteToken": order.QuoteToken.Hex(),
			"price":      order.Price.ToBig().String(),
			"amount":     order.Amount.ToBig().String(),
			"nonce":      order.Nonce.ToBig().String(),
			"isBuy":      order.IsBuy,
		},
	}
}

// HashOrder returns the EIP-712 digest a trader signs for the order:
// keccak256("\x19\x01" || domainSeparator || structHash).
func (t *TypedSigner) HashOrder(order *types.SignedOrder) ([]byte, error) {
	typedData := t.typedData(order)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash order: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(structHash)))
	digest := crypto.Keccak256Hash(rawData)

	return digest.Bytes(), nil
}

// SignOrder signs an order with the given key.
func (t *TypedSigner) SignOrder(signer *Signer, order *types.SignedOrder) ([]byte, error) {
	hash, err := t.HashOrder(order)
	if err != nil {
		return nil, err
	}

	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign order: %w", err)
	}
	return signature, nil
}

// RecoverOrderSigner resolves the address that signed the order using the
// supplied Recoverer.
func (t *TypedSigner) RecoverOrderSigner(order *types.SignedOrder, signature []byte, rec Recoverer) (common.Address, error) {
	hash, err := t.HashOrder(order)
	if err != nil {
		return common.Address{}, err
	}
	return rec.Recover(hash, signature)
}

// OrderToJSON renders the typed data in the eth_signTypedData_v4 format
// wallets expect.
func (t *TypedSigner) OrderToJSON(order *types.SignedOrder) (string, error) {
	payload := map[string]interface{}{
		"types":       orderTypes,
		"primaryType": "Order",
		"domain": map[string]interface{}{
			"name":              t.domain.Name,
			"version":           t.domain.Version,
			"chainId":           t.domain.ChainID.String(),
			"verifyingContract": t.domain.VerifyingContract.Hex(),
		},
		"message": map[string]interface{}{
			"trader":     order.Trader.Hex(),
			"baseToken":  order.BaseToken.Hex(),
			"quoteToken": order.QuoteToken.Hex(),
			"price":      order.Price.ToBig().String(),
			"amount":     order.Amount.ToBig().String(),
			"nonce":      order.Nonce.ToBig().String(),
			"isBuy":      order.IsBuy,
		},
	}

	jsonBytes, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal typed data: %w", err)
	}
	return string(jsonBytes), nil
}
