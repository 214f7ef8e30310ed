package crypto

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/umix-labs/umix-core/pkg/exchange/types"
)

func testDomain() Domain {
	return DefaultDomain(31337, common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"))
}

func testOrder(trader common.Address, isBuy bool) *types.SignedOrder {
	return &types.SignedOrder{
		Trader:     trader,
		BaseToken:  common.HexToAddress("0x0000000000000000000000000000000000000b01"),
		QuoteToken: common.HexToAddress("0x0000000000000000000000000000000000000c01"),
		Price:      uint256.NewInt(50_000_000_000),
		Amount:     uint256.MustFromDecimal("1000000000000000000"),
		Nonce:      uint256.NewInt(1),
		IsBuy:      isBuy,
	}
}

func TestSignAndRecover(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}

	ts := NewTypedSigner(testDomain())
	order := testOrder(signer.Address(), true)

	sig, err := ts.SignOrder(signer, order)
	if err != nil {
		t.Fatalf("signing failed: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}

	recovered, err := ts.RecoverOrderSigner(order, sig, ECDSARecoverer{})
	if err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered %s, want %s", recovered.Hex(), signer.Address().Hex())
	}
}

func TestTamperedOrderRecoversDifferentSigner(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}

	ts := NewTypedSigner(testDomain())
	order := testOrder(signer.Address(), true)
	sig, err := ts.SignOrder(signer, order)
	if err != nil {
		t.Fatalf("signing failed: %v", err)
	}

	order.Price = uint256.NewInt(1) // tamper after signing

	recovered, err := ts.RecoverOrderSigner(order, sig, ECDSARecoverer{})
	if err == nil && recovered == signer.Address() {
		t.Error("tampered order still recovered the original signer")
	}
}

func TestDomainBindsSignature(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}

	order := testOrder(signer.Address(), false)
	sig, err := NewTypedSigner(testDomain()).SignOrder(signer, order)
	if err != nil {
		t.Fatalf("signing failed: %v", err)
	}

	otherChain := NewTypedSigner(DefaultDomain(1, common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")))
	recovered, err := otherChain.RecoverOrderSigner(order, sig, ECDSARecoverer{})
	if err == nil && recovered == signer.Address() {
		t.Error("signature validated under a different chain id")
	}
}

func TestFromPrivateKeyHexRoundTrip(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}

	reloaded, err := FromPrivateKeyHex(signer.PrivateKeyHex())
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Address() != signer.Address() {
		t.Errorf("reloaded address %s, want %s", reloaded.Address().Hex(), signer.Address().Hex())
	}
}

func TestHashOrderDeterministic(t *testing.T) {
	ts := NewTypedSigner(testDomain())
	order := testOrder(common.HexToAddress("0xAA00000000000000000000000000000000000000"), true)

	h1, err := ts.HashOrder(order)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	h2, err := ts.HashOrder(order)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if string(h1) != string(h2) {
		t.Error("same order hashed to different digests")
	}

	order.Nonce = uint256.NewInt(2)
	h3, err := ts.HashOrder(order)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if string(h1) == string(h3) {
		t.Error("nonce change did not change the digest")
	}
}

func TestRecoverRejectsMalformedInput(t *testing.T) {
	if _, err := RecoverAddress(make([]byte, 32), make([]byte, 10)); err == nil {
		t.Error("short signature accepted")
	}
	if _, err := RecoverAddress(make([]byte, 10), make([]byte, 65)); err == nil {
		t.Error("short hash accepted")
	}
}
