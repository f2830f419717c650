package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/solbounty/bountyd/internal/telemetry"
)

// ErrEscrowExists is returned by Create when the derived account is already
// funded.
var ErrEscrowExists = errors.New("escrow already exists for this issue")

// ErrEscrowNotFound is returned by Release when the derived account holds no
// funds.
var ErrEscrowNotFound = errors.New("no funded escrow found for this issue")

// Client is the narrow slice of ledger access the gateway needs. The real
// implementation wraps the Solana RPC client; tests substitute a fake.
type Client interface {
	// Balance returns the lamport balance of an account; zero means the
	// account does not exist (or was closed).
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)

	// Submit signs an instruction with the funding key, sends it, and
	// blocks until the deployment's commitment level is reached.
	Submit(ctx context.Context, inst solana.Instruction) (solana.Signature, error)

	// Payer is the funding account's public key.
	Payer() solana.PublicKey
}

// Gateway creates and releases escrows against the on-chain program.
//
// Create and Release both re-check account state immediately before
// submitting. The check and the submit are not atomic; the bounty manager
// holds a per-issue lock across the whole call to close that window (the
// program itself only logs, and does not reject, a duplicate create).
type Gateway struct {
	client    Client
	programID solana.PublicKey
}

// NewGateway creates a gateway for the given program.
func NewGateway(client Client, programID solana.PublicKey) *Gateway {
	return &Gateway{client: client, programID: programID}
}

// Exists reports whether a funded escrow account exists for the issue.
// No side effects.
func (g *Gateway) Exists(ctx context.Context, repoHash [32]byte, issueNumber uint64) (bool, error) {
	addr, _, err := DeriveAddress(g.programID, repoHash, issueNumber)
	if err != nil {
		return false, err
	}
	balance, err := g.client.Balance(ctx, addr)
	if err != nil {
		return false, fmt.Errorf("failed to query escrow account %s: %w", addr, err)
	}
	return balance > 0, nil
}

// Create funds a new escrow for the issue and blocks until the transaction
// confirms. Returns ErrEscrowExists if the derived account is already funded.
func (g *Gateway) Create(ctx context.Context, repoHash [32]byte, issueNumber uint64, amount uint64) (solana.Signature, error) {
	exists, err := g.Exists(ctx, repoHash, issueNumber)
	if err != nil {
		telemetry.CountEscrow(ctx, "create", "error")
		return solana.Signature{}, err
	}
	if exists {
		telemetry.CountEscrow(ctx, "create", "exists")
		return solana.Signature{}, ErrEscrowExists
	}

	addr, _, err := DeriveAddress(g.programID, repoHash, issueNumber)
	if err != nil {
		return solana.Signature{}, err
	}

	data := CreateEscrow{
		RepoHash:    repoHash,
		IssueNumber: issueNumber,
		Amount:      amount,
	}.Encode()

	// Account order is fixed by the program: payer, escrow PDA, system
	// program.
	inst := solana.NewInstruction(g.programID, solana.AccountMetaSlice{
		solana.Meta(g.client.Payer()).WRITE().SIGNER(),
		solana.Meta(addr).WRITE(),
		solana.Meta(solana.SystemProgramID),
	}, data)

	sig, err := g.client.Submit(ctx, inst)
	if err != nil {
		telemetry.CountEscrow(ctx, "create", "error")
		return solana.Signature{}, fmt.Errorf("failed to create escrow for issue %d: %w", issueNumber, err)
	}
	telemetry.CountEscrow(ctx, "create", "ok")
	return sig, nil
}

// Release pays the escrowed funds for the issue to recipient and blocks
// until the transaction confirms. Returns ErrEscrowNotFound if the derived
// account is unfunded.
func (g *Gateway) Release(ctx context.Context, repoHash [32]byte, issueNumber uint64, recipient solana.PublicKey) (solana.Signature, error) {
	addr, _, err := DeriveAddress(g.programID, repoHash, issueNumber)
	if err != nil {
		return solana.Signature{}, err
	}

	balance, err := g.client.Balance(ctx, addr)
	if err != nil {
		telemetry.CountEscrow(ctx, "release", "error")
		return solana.Signature{}, fmt.Errorf("failed to query escrow account %s: %w", addr, err)
	}
	if balance == 0 {
		telemetry.CountEscrow(ctx, "release", "not_found")
		return solana.Signature{}, ErrEscrowNotFound
	}

	data := ReleaseEscrow{
		RepoHash:    repoHash,
		IssueNumber: issueNumber,
	}.Encode()

	// Account order is fixed by the program: escrow PDA, recipient,
	// authority. The authority signs and receives the reclaimed rent.
	inst := solana.NewInstruction(g.programID, solana.AccountMetaSlice{
		solana.Meta(addr).WRITE(),
		solana.Meta(recipient).WRITE(),
		solana.Meta(g.client.Payer()).WRITE().SIGNER(),
	}, data)

	sig, err := g.client.Submit(ctx, inst)
	if err != nil {
		telemetry.CountEscrow(ctx, "release", "error")
		return solana.Signature{}, fmt.Errorf("failed to release escrow for issue %d: %w", issueNumber, err)
	}
	telemetry.CountEscrow(ctx, "release", "ok")
	return sig, nil
}
