// sign-order generates (or loads) a key, signs an EIP-712 order, and
// prints the payload ready for POST /api/v1/trades/execute.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/holiman/uint256"

	"github.com/umix-labs/umix-core/params"
	"github.com/umix-labs/umix-core/pkg/crypto"
	"github.com/umix-labs/umix-core/pkg/exchange/types"
)

func main() {
	var (
		keyHex    = flag.String("key", "", "hex private key (omit to generate a fresh one)")
		side      = flag.String("side", "buy", "order side: buy or sell")
		priceStr  = flag.String("price", "50000000000", "limit price, quote units per 1.0 base, 6 decimals")
		amountStr = flag.String("amount", "1000000000000000000", "base amount, smallest units")
		nonceStr  = flag.String("nonce", "1", "single-use nonce")
	)
	flag.Parse()

	cfg := params.LoadFromEnv("")

	var signer *crypto.Signer
	var err error
	if *keyHex != "" {
		signer, err = crypto.FromPrivateKeyHex(*keyHex)
	} else {
		fmt.Println("Generating new keypair...")
		signer, err = crypto.GenerateKey()
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Address: %s\n", signer.Address().Hex())
	if *keyHex == "" {
		fmt.Printf("Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	}
	fmt.Println()

	price, err := uint256.FromDecimal(*priceStr)
	if err != nil {
		fmt.Printf("Invalid price: %v\n", err)
		os.Exit(1)
	}
	amount, err := uint256.FromDecimal(*amountStr)
	if err != nil {
		fmt.Printf("Invalid amount: %v\n", err)
		os.Exit(1)
	}
	nonce, err := uint256.FromDecimal(*nonceStr)
	if err != nil {
		fmt.Printf("Invalid nonce: %v\n", err)
		os.Exit(1)
	}

	order := &types.SignedOrder{
		Trader:     signer.Address(),
		BaseToken:  cfg.Market.BaseToken,
		QuoteToken: cfg.Market.QuoteToken,
		Price:      price,
		Amount:     amount,
		Nonce:      nonce,
		IsBuy:      *side == "buy",
	}

	fmt.Println("Order Details:")
	fmt.Printf("  Side: %s\n", *side)
	fmt.Printf("  Base Token: %s\n", order.BaseToken.Hex())
	fmt.Printf("  Quote Token: %s\n", order.QuoteToken.Hex())
	fmt.Printf("  Price: %s\n", order.Price.Dec())
	fmt.Printf("  Amount: %s\n", order.Amount.Dec())
	fmt.Printf("  Nonce: %s\n\n", order.Nonce.Dec())

	domain := crypto.DefaultDomain(cfg.Signing.ChainID, cfg.Signing.VerifyingContract)
	typedSigner := crypto.NewTypedSigner(domain)

	signature, err := typedSigner.SignOrder(signer, order)
	if err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Signature: 0x%x\n\n", signature)

	recovered, err := typedSigner.RecoverOrderSigner(order, signature, crypto.ECDSARecoverer{})
	if err != nil || recovered != order.Trader {
		fmt.Printf("Signature verification FAILED (recovered %s): %v\n", recovered.Hex(), err)
		os.Exit(1)
	}
	fmt.Println("Signature verified.")
	fmt.Println()

	payload, err := typedSigner.OrderToJSON(order)
	if err != nil {
		fmt.Printf("Error rendering typed data: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Typed data (eth_signTypedData_v4):")
	fmt.Println(payload)
	fmt.Println()
	fmt.Println("Pair two opposing signed orders and submit them to:")
	fmt.Println("  POST http://localhost:8080/api/v1/trades/execute")
}
