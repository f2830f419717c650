package escrow

import "encoding/binary"

// Instruction discriminators. The program switches on the first byte of the
// instruction data.
const (
	createDiscriminator  byte = 0
	releaseDiscriminator byte = 1
)

// Encoded instruction lengths: discriminator + fixed-width fields.
const (
	CreateInstructionLen  = 1 + 32 + 8 + 8
	ReleaseInstructionLen = 1 + 32 + 8
)

// CreateEscrow is the wire record for instruction 0. Field order and widths
// match the program's Borsh deserialization: repo_hash [32]byte,
// issue_number u64 LE, amount u64 LE.
type CreateEscrow struct {
	RepoHash    [32]byte
	IssueNumber uint64
	Amount      uint64 // lamports
}

// ReleaseEscrow is the wire record for instruction 1.
type ReleaseEscrow struct {
	RepoHash    [32]byte
	IssueNumber uint64
}

// Encode serializes the instruction. Same record, same bytes, every time.
func (ix CreateEscrow) Encode() []byte {
	data := make([]byte, CreateInstructionLen)
	data[0] = createDiscriminator
	copy(data[1:33], ix.RepoHash[:])
	binary.LittleEndian.PutUint64(data[33:41], ix.IssueNumber)
	binary.LittleEndian.PutUint64(data[41:49], ix.Amount)
	return data
}

// Encode serializes the instruction.
func (ix ReleaseEscrow) Encode() []byte {
	data := make([]byte, ReleaseInstructionLen)
	data[0] = releaseDiscriminator
	copy(data[1:33], ix.RepoHash[:])
	binary.LittleEndian.PutUint64(data[33:41], ix.IssueNumber)
	return data
}
