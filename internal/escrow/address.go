// Package escrow talks to the on-chain escrow program: deterministic address
// derivation, instruction encoding, and the create/release gateway.
//
// The byte layouts here must match the deployed program exactly. A mismatch
// is not a decode error — it is funds sent to an address nobody can spend
// from. Change nothing without changing the program in lockstep.
package escrow

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// AddressSeed is the domain tag the program uses as the first PDA seed.
const AddressSeed = "escrow"

// HashRepo computes the stable 32-byte identifier for a repository from its
// canonical "owner/name" form. Both creation and release derive the escrow
// address from this digest, so the input must be byte-identical on both
// paths (no trimming, no case folding — GitHub full names are stable).
func HashRepo(fullName string) [32]byte {
	return sha256.Sum256([]byte(fullName))
}

// DeriveAddress computes the escrow account address for an issue. It is a
// pure function of (programID, repoHash, issueNumber): any party holding the
// same inputs computes the same address, which is what lets creation and
// release agree on "the same escrow" without a lookup table.
func DeriveAddress(programID solana.PublicKey, repoHash [32]byte, issueNumber uint64) (solana.PublicKey, uint8, error) {
	issueLE := make([]byte, 8)
	binary.LittleEndian.PutUint64(issueLE, issueNumber)

	addr, bump, err := solana.FindProgramAddress(
		[][]byte{[]byte(AddressSeed), repoHash[:], issueLE},
		programID,
	)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive escrow address for issue %d: %w", issueNumber, err)
	}
	return addr, bump, nil
}
