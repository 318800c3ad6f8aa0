package ckb

import (
	"context"
	"encoding/json"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"

	"github.com/Hanssen0/ckb-indexer/pkg/config"
	"github.com/Hanssen0/ckb-indexer/pkg/database"
)

const (
	amountSize          = 16
	defaultCellCacheMB  = 64
	cellCacheLifeWindow = 24 * time.Hour
)

var (
	mainnetUDTCodeHashes = []common.Hash{
		// sUDT
		common.HexToHash("0x5e7a36a77e68eecc013dfa2fe6a23f3b6c344b04005808694ae6dd45eea4cfd5"),
		// xUDT
		common.HexToHash("0x50bd8d6680b8b9cf98b73f3c08faf8b2a21914311954118ad6609be6e78a1b95"),
	}
	testnetUDTCodeHashes = []common.Hash{
		common.HexToHash("0xc5e5dcf215925f7ef4dfaf5f4b4f105bc321c02776d6e7d52a1db3fcd9d011a4"),
		common.HexToHash("0x25c29dc317811a6f6f3985a7a9ebc4838bd388d19d0feeecf0bcd60f6c0975bb"),
	}
)

// TransactionSource resolves the transactions that created spent cells.
type TransactionSource interface {
	GetTransaction(ctx context.Context, hash common.Hash) (*Transaction, error)
}

// Extractor turns UDT transfers into ledger diffs. Amounts are the u128
// little-endian prefix of the cell data. Inputs are resolved through a cell
// cache filled from extracted outputs, falling back to the node.
type Extractor struct {
	source     TransactionSource
	cache      *bigcache.BigCache
	codeHashes map[common.Hash]bool
}

func NewExtractor(ctx context.Context, cfg *config.Chain, source TransactionSource) (*Extractor, error) {
	codeHashes := make(map[common.Hash]bool)
	for _, h := range cfg.UDTCodeHashes {
		b, err := hexutil.Decode(h)
		if err != nil || len(b) != common.HashLength {
			return nil, errors.Errorf("invalid UDT code hash %q", h)
		}
		codeHashes[common.BytesToHash(b)] = true
	}
	if len(codeHashes) == 0 {
		defaults := testnetUDTCodeHashes
		if cfg.IsMainnet {
			defaults = mainnetUDTCodeHashes
		}
		for _, h := range defaults {
			codeHashes[h] = true
		}
	}

	cacheMB := cfg.CellCacheMB
	if cacheMB <= 0 {
		cacheMB = defaultCellCacheMB
	}

	cacheConfig := bigcache.DefaultConfig(cellCacheLifeWindow)
	cacheConfig.HardMaxCacheSize = cacheMB
	cacheConfig.Verbose = false

	cache, err := bigcache.New(ctx, cacheConfig)
	if err != nil {
		return nil, errors.Wrap(err, "creating cell cache")
	}

	return &Extractor{
		source:     source,
		cache:      cache,
		codeHashes: codeHashes,
	}, nil
}

func (e *Extractor) Close() error {
	return e.cache.Close()
}

// udtCell is a resolved UDT output. A nil *udtCell means the output is not
// a UDT cell.
type udtCell struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

type balanceKey struct {
	address string
	token   string
}

func (e *Extractor) ExtractDiffs(ctx context.Context, tx Transaction) ([]database.Diff, error) {
	balances := make(map[balanceKey]*big.Int)
	supply := make(map[string]*big.Int)

	add := func(cell *udtCell, sign int) error {
		amount, ok := new(big.Int).SetString(cell.Amount, 10)
		if !ok {
			return errors.Errorf("invalid cached amount %q", cell.Amount)
		}
		if sign < 0 {
			amount.Neg(amount)
		}

		key := balanceKey{address: cell.Address, token: cell.Token}
		if balances[key] == nil {
			balances[key] = new(big.Int)
		}
		balances[key].Add(balances[key], amount)

		if supply[cell.Token] == nil {
			supply[cell.Token] = new(big.Int)
		}
		supply[cell.Token].Add(supply[cell.Token], amount)

		return nil
	}

	for i := range tx.Outputs {
		cell := e.parseOutput(&tx, i)
		e.store(OutPoint{TxHash: tx.Hash, Index: hexutil.Uint(i)}, cell)

		if cell != nil {
			if err := add(cell, 1); err != nil {
				return nil, err
			}
		}
	}

	if !tx.IsCellbase {
		for _, input := range tx.Inputs {
			if uint(input.PreviousOutput.Index) == cellbaseIndex && input.PreviousOutput.TxHash == (common.Hash{}) {
				continue
			}

			cell, err := e.resolve(ctx, input.PreviousOutput)
			if err != nil {
				return nil, errors.Wrapf(err, "resolving input %s", input.PreviousOutput.key())
			}

			if cell != nil {
				if err := add(cell, -1); err != nil {
					return nil, err
				}
			}
		}
	}

	return collectDiffs(balances, supply), nil
}

func (e *Extractor) parseOutput(tx *Transaction, index int) *udtCell {
	output := tx.Outputs[index]
	if output.Type == nil || !e.codeHashes[output.Type.CodeHash] {
		return nil
	}
	if index >= len(tx.OutputsData) || len(tx.OutputsData[index]) < amountSize {
		return nil
	}

	return &udtCell{
		Address: output.Lock.Hash().Hex(),
		Token:   output.Type.Hash().Hex(),
		Amount:  parseAmount(tx.OutputsData[index]).String(),
	}
}

// parseAmount decodes the u128 little-endian amount at the start of data.
func parseAmount(data []byte) *big.Int {
	be := make([]byte, amountSize)
	for i := 0; i < amountSize; i++ {
		be[i] = data[amountSize-1-i]
	}

	return new(big.Int).SetBytes(be)
}

func (e *Extractor) store(outPoint OutPoint, cell *udtCell) {
	value := []byte{}
	if cell != nil {
		encoded, err := json.Marshal(cell)
		if err != nil {
			return
		}
		value = encoded
	}

	// A full cache only costs an extra RPC call later.
	_ = e.cache.Set(outPoint.key(), value)
}

func (e *Extractor) resolve(ctx context.Context, outPoint OutPoint) (*udtCell, error) {
	value, err := e.cache.Get(outPoint.key())
	if err == nil {
		if len(value) == 0 {
			return nil, nil
		}

		cell := new(udtCell)
		if err := json.Unmarshal(value, cell); err != nil {
			return nil, errors.Wrap(err, "decoding cached cell")
		}

		return cell, nil
	}
	if !errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, errors.Wrap(err, "reading cell cache")
	}

	tx, err := e.source.GetTransaction(ctx, outPoint.TxHash)
	if err != nil {
		return nil, err
	}

	index := int(outPoint.Index)
	if index >= len(tx.Outputs) {
		return nil, errors.Errorf("transaction %s has no output %d", outPoint.TxHash.Hex(), index)
	}

	cell := e.parseOutput(tx, index)
	e.store(outPoint, cell)

	return cell, nil
}

// collectDiffs drops zero nets and orders the diffs by key.
func collectDiffs(balances map[balanceKey]*big.Int, supply map[string]*big.Int) []database.Diff {
	var diffs []database.Diff

	for token, delta := range supply {
		if delta.Sign() != 0 {
			diffs = append(diffs, database.Diff{Kind: database.SupplyDiff, TokenHash: token, Delta: delta})
		}
	}
	for key, delta := range balances {
		if delta.Sign() != 0 {
			diffs = append(diffs, database.Diff{
				Kind:        database.BalanceDiff,
				TokenHash:   key.token,
				AddressHash: key.address,
				Delta:       delta,
			})
		}
	}

	slices.SortFunc(diffs, func(a, b database.Diff) int {
		if a.Kind != b.Kind {
			return int(a.Kind) - int(b.Kind)
		}
		if c := strings.Compare(a.TokenHash, b.TokenHash); c != 0 {
			return c
		}

		return strings.Compare(a.AddressHash, b.AddressHash)
	})

	return diffs
}
