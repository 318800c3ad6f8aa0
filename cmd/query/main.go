// Command query reads balances, token supply and block headers from an
// indexer database.
package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/alexflint/go-arg"
	"github.com/flare-foundation/go-flare-common/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/Hanssen0/ckb-indexer/pkg/ckb"
	"github.com/Hanssen0/ckb-indexer/pkg/config"
	"github.com/Hanssen0/ckb-indexer/pkg/database"
	"github.com/Hanssen0/ckb-indexer/pkg/indexer"
)

type balanceCmd struct {
	Address string  `arg:"positional,required" help:"lock script hash"`
	Token   string  `arg:"positional,required" help:"type script hash"`
	Height  *uint64 `arg:"--height" help:"balance as of this block"`
}

type tokenCmd struct {
	Token string `arg:"positional,required" help:"type script hash"`
}

type headerCmd struct {
	Height *uint64 `arg:"positional" help:"block height, the tip if omitted"`
	FromDB bool    `arg:"--db" help:"read the stored block instead of asking the node"`
}

type CLIArgs struct {
	ConfigFile string      `arg:"--config,env:CONFIG_FILE" default:"config.toml"`
	Balance    *balanceCmd `arg:"subcommand:balance"`
	Token      *tokenCmd   `arg:"subcommand:token"`
	Header     *headerCmd  `arg:"subcommand:header"`
}

func main() {
	var args CLIArgs
	p := arg.MustParse(&args)
	if p.Subcommand() == nil {
		p.Fail("missing subcommand")
	}

	if err := run(context.Background(), args); err != nil {
		logger.Fatal(err)
	}
}

func run(ctx context.Context, args CLIArgs) error {
	_ = godotenv.Load()

	cfg := config.DefaultBaseConfig
	if err := config.ReadFile(args.ConfigFile, &cfg); err != nil {
		return errors.Wrapf(err, "reading config %s", args.ConfigFile)
	}
	cfg.ApplyEnvOverrides()
	cfg.DB.DropTableAtStart = false

	logger.Set(cfg.Logger)

	db, err := database.New(&cfg.DB)
	if err != nil {
		return err
	}

	var result interface{}

	switch {
	case args.Balance != nil:
		if args.Balance.Height != nil {
			result, err = db.GetBalanceAt(ctx, args.Balance.Address, args.Balance.Token, *args.Balance.Height)
		} else {
			result, err = db.GetBalance(ctx, args.Balance.Address, args.Balance.Token)
		}
	case args.Token != nil:
		result, err = db.GetTokenInfo(ctx, args.Token.Token)
	case args.Header != nil:
		result, err = header(ctx, &cfg, db, args.Header)
	}
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")

	return encoder.Encode(result)
}

func header(ctx context.Context, cfg *config.BaseConfig, db *database.DB, cmd *headerCmd) (*database.Block, error) {
	client, err := ckb.NewClient(ctx, &cfg.Chain)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	ix := indexer.New[ckb.Transaction](cfg, db, client, nil)

	return ix.GetBlockHeader(ctx, indexer.HeaderQuery{Height: cmd.Height, FromDB: cmd.FromDB})
}
