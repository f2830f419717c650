package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient implements Client against a Solana JSON-RPC endpoint. All
// submissions are signed by a single funding key and confirmed by polling
// signature status; callers block until the configured commitment is
// reached.
type RPCClient struct {
	rpc        *rpc.Client
	payer      solana.PrivateKey
	commitment rpc.CommitmentType
}

// NewRPCClient creates a client for the given endpoint. keypairPath points
// at a solana-keygen JSON file holding the funding key. commitment is one of
// "processed", "confirmed", or "finalized"; anything else falls back to
// "confirmed".
func NewRPCClient(endpoint, keypairPath, commitment string) (*RPCClient, error) {
	payer, err := solana.PrivateKeyFromSolanaKeygenFile(keypairPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load funding keypair from %s: %w", keypairPath, err)
	}

	var ct rpc.CommitmentType
	switch commitment {
	case "processed":
		ct = rpc.CommitmentProcessed
	case "finalized":
		ct = rpc.CommitmentFinalized
	default:
		ct = rpc.CommitmentConfirmed
	}

	return &RPCClient{
		rpc:        rpc.New(endpoint),
		payer:      payer,
		commitment: ct,
	}, nil
}

// Payer returns the funding account's public key.
func (c *RPCClient) Payer() solana.PublicKey {
	return c.payer.PublicKey()
}

// Balance returns the lamport balance of an account at the configured
// commitment level.
func (c *RPCClient) Balance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	out, err := c.rpc.GetBalance(ctx, account, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("getBalance failed: %w", err)
	}
	return out.Value, nil
}

// Submit builds a single-instruction transaction, signs it with the funding
// key, sends it, and blocks until the signature reaches the configured
// commitment.
func (c *RPCClient) Submit(ctx context.Context, inst solana.Instruction) (solana.Signature, error) {
	recent, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("getLatestBlockhash failed: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{inst},
		recent.Value.Blockhash,
		solana.TransactionPayer(c.payer.PublicKey()),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to build transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(c.payer.PublicKey()) {
			return &c.payer
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("sendTransaction failed: %w", err)
	}

	if err := c.awaitConfirmation(ctx, sig); err != nil {
		return solana.Signature{}, err
	}
	return sig, nil
}

// awaitConfirmation polls signature status until the configured commitment
// is reached. Polling backs off exponentially; a transaction that fails
// on-chain is terminal immediately.
func (c *RPCClient) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 90 * time.Second

	return backoff.Retry(func() error {
		out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return fmt.Errorf("getSignatureStatuses failed: %w", err)
		}
		if len(out.Value) == 0 || out.Value[0] == nil {
			return fmt.Errorf("transaction %s not yet observed", sig)
		}
		status := out.Value[0]
		if status.Err != nil {
			return backoff.Permanent(fmt.Errorf("transaction %s failed on-chain: %v", sig, status.Err))
		}
		if !commitmentReached(status.ConfirmationStatus, c.commitment) {
			return fmt.Errorf("transaction %s at %s, waiting for %s",
				sig, status.ConfirmationStatus, c.commitment)
		}
		return nil
	}, backoff.WithContext(bo, ctx))
}

// commitmentReached reports whether an observed confirmation status
// satisfies the requested commitment.
func commitmentReached(observed rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	rank := func(s string) int {
		switch s {
		case "processed":
			return 1
		case "confirmed":
			return 2
		case "finalized":
			return 3
		}
		return 0
	}
	return rank(string(observed)) >= rank(string(want))
}
