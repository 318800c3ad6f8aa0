package ckb

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/minio/blake2b-simd"

	"github.com/Hanssen0/ckb-indexer/pkg/chain"
)

// Index of the previous output referenced by cellbase inputs.
const cellbaseIndex = 0xffffffff

var ckbHashPersonalization = []byte("ckb-default-hash")

var hashTypes = map[string]byte{
	"data":  0,
	"type":  1,
	"data1": 2,
	"data2": 4,
}

type Script struct {
	CodeHash common.Hash   `json:"code_hash"`
	HashType string        `json:"hash_type"`
	Args     hexutil.Bytes `json:"args"`
}

// Serialize returns the molecule encoding of the script: a table of
// code_hash (Byte32), hash_type (byte) and args (Bytes).
func (s Script) Serialize() []byte {
	const header = 4 * (1 + 3)

	codeHashOffset := header
	hashTypeOffset := codeHashOffset + common.HashLength
	argsOffset := hashTypeOffset + 1
	total := argsOffset + 4 + len(s.Args)

	b := make([]byte, 0, total)
	b = binary.LittleEndian.AppendUint32(b, uint32(total))
	b = binary.LittleEndian.AppendUint32(b, uint32(codeHashOffset))
	b = binary.LittleEndian.AppendUint32(b, uint32(hashTypeOffset))
	b = binary.LittleEndian.AppendUint32(b, uint32(argsOffset))
	b = append(b, s.CodeHash.Bytes()...)
	b = append(b, hashTypes[s.HashType])
	b = binary.LittleEndian.AppendUint32(b, uint32(len(s.Args)))
	b = append(b, s.Args...)

	return b
}

// Hash returns the script hash used by the chain and its tooling to
// identify lock and type scripts.
func (s Script) Hash() common.Hash {
	return common.BytesToHash(ckbHash(s.Serialize()))
}

// ckbHash is blake2b-256 with the ckb-default-hash personalization.
func ckbHash(data []byte) []byte {
	h, err := blake2b.New(&blake2b.Config{Size: common.HashLength, Person: ckbHashPersonalization})
	if err != nil {
		// Only reachable with an invalid static config.
		panic(err)
	}
	h.Write(data)

	return h.Sum(nil)
}

type OutPoint struct {
	TxHash common.Hash  `json:"tx_hash"`
	Index  hexutil.Uint `json:"index"`
}

func (o OutPoint) key() string {
	return fmt.Sprintf("%s:%d", o.TxHash.Hex(), uint(o.Index))
}

type CellInput struct {
	PreviousOutput OutPoint `json:"previous_output"`
}

type CellOutput struct {
	Lock Script  `json:"lock"`
	Type *Script `json:"type"`
}

type Transaction struct {
	Hash        common.Hash     `json:"hash"`
	Inputs      []CellInput     `json:"inputs"`
	Outputs     []CellOutput    `json:"outputs"`
	OutputsData []hexutil.Bytes `json:"outputs_data"`

	// Set for the first transaction of a block.
	IsCellbase bool `json:"-"`
}

type header struct {
	Hash       common.Hash    `json:"hash"`
	ParentHash common.Hash    `json:"parent_hash"`
	Number     hexutil.Uint64 `json:"number"`
	Timestamp  hexutil.Uint64 `json:"timestamp"`
}

func (h *header) toChain() chain.Header {
	return chain.Header{
		Hash:       h.Hash.Hex(),
		ParentHash: h.ParentHash.Hex(),
		Number:     uint64(h.Number),
		Timestamp:  uint64(h.Timestamp),
	}
}

type block struct {
	Header       header        `json:"header"`
	Transactions []Transaction `json:"transactions"`
}

type transactionWithStatus struct {
	Transaction *Transaction `json:"transaction"`
}

type localNode struct {
	Version string `json:"version"`
}
