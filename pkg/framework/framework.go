package framework

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/cenkalti/backoff/v4"
	"github.com/flare-foundation/go-flare-common/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/Hanssen0/ckb-indexer/pkg/chain"
	"github.com/Hanssen0/ckb-indexer/pkg/config"
	"github.com/Hanssen0/ckb-indexer/pkg/database"
	"github.com/Hanssen0/ckb-indexer/pkg/indexer"
	"github.com/Hanssen0/ckb-indexer/pkg/metrics"
)

type CLIArgs struct {
	ConfigFile string `arg:"--config,env:CONFIG_FILE" default:"config.toml"`
}

// Input builds the chain specific parts of the indexer once the
// configuration is loaded. The extractor receives the node client built by
// NewNodeClient.
type Input[T any] struct {
	NewNodeClient func(ctx context.Context, cfg *config.Chain) (chain.NodeClient[T], error)
	NewExtractor  func(ctx context.Context, cfg *config.Chain, node chain.NodeClient[T]) (indexer.DiffExtractor[T], error)
}

// Run indexes until SIGINT or SIGTERM.
func Run[T any](input Input[T]) error {
	var args CLIArgs
	arg.MustParse(&args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runWithArgs(ctx, input, args)
}

func runWithArgs[T any](ctx context.Context, input Input[T], args CLIArgs) error {
	envErr := godotenv.Load()

	cfg := config.DefaultBaseConfig
	if err := config.ReadFile(args.ConfigFile, &cfg); err != nil {
		return errors.Wrapf(err, "reading config %s", args.ConfigFile)
	}
	cfg.ApplyEnvOverrides()

	logger.Set(cfg.Logger)

	if envErr != nil {
		logger.Debug("no .env file found, using the environment as is")
	}

	db, err := connectDB(ctx, &cfg)
	if err != nil {
		return err
	}

	if err := sanityCheck(ctx, db); err != nil {
		return err
	}

	node, err := input.NewNodeClient(ctx, &cfg.Chain)
	if err != nil {
		return errors.Wrap(err, "creating node client")
	}
	defer closeQuietly(node)

	extractor, err := input.NewExtractor(ctx, &cfg.Chain, node)
	if err != nil {
		return errors.Wrap(err, "creating extractor")
	}
	defer closeQuietly(extractor)

	ix := indexer.New(&cfg, db, node, extractor)

	if err := saveVersion(ctx, db, ix, &cfg); err != nil {
		return err
	}

	if cfg.Metrics.Address != "" {
		if err := metrics.Serve(ctx, cfg.Metrics.Address); err != nil {
			return err
		}
	}

	s := newScheduler(ctx)

	if cfg.Sync.IntervalMillis > 0 {
		s.every("sync", time.Duration(cfg.Sync.IntervalMillis)*time.Millisecond, ix.Sync)
	} else {
		logger.Warn("sync interval is 0, the indexer will not follow the chain")
	}

	if cfg.Clear.Confirmations != nil && cfg.Clear.IntervalMillis > 0 {
		s.every("clear", time.Duration(cfg.Clear.IntervalMillis)*time.Millisecond, ix.Clear)
	} else {
		logger.Info("compaction disabled")
	}

	s.start()

	<-ctx.Done()
	logger.Info("shutting down, waiting for running jobs")

	s.stop()

	return nil
}

func connectDB(ctx context.Context, cfg *config.BaseConfig) (*database.DB, error) {
	var db *database.DB

	maxElapsed := time.Duration(cfg.Timeout.BackoffMaxElapsedTimeSeconds) * time.Second
	bOff := backoff.WithContext(backoff.NewExponentialBackOff(backoff.WithMaxElapsedTime(maxElapsed)), ctx)

	err := backoff.RetryNotify(
		func() (err error) {
			db, err = database.New(&cfg.DB)
			return err
		},
		bOff,
		func(err error, d time.Duration) {
			logger.Errorf("DB connection error: %v. Will retry after %v", err, d)
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to the DB")
	}

	return db, nil
}

// sanityCheck refuses to run on a database where history was collapsed past
// the applied blocks.
func sanityCheck(ctx context.Context, db *database.DB) error {
	confirmedState, err := db.LookupState(ctx, database.ConfirmedState)
	if err != nil {
		return err
	}
	if confirmedState == nil {
		return nil
	}

	confirmed, err := confirmedState.Height()
	if err != nil {
		return errors.Wrap(err, "decoding CONFIRMED")
	}
	if confirmed.IsPermanent() {
		return nil
	}

	pendingState, err := db.LookupState(ctx, database.PendingState)
	if err != nil {
		return err
	}
	if pendingState == nil {
		return errors.Errorf("CONFIRMED is %s but no block was applied, drop tables before start", confirmed)
	}

	pending, err := pendingState.Height()
	if err != nil {
		return errors.Wrap(err, "decoding PENDING")
	}
	if confirmed.Cmp(pending) > 0 {
		return errors.Errorf(
			"CONFIRMED %s is above PENDING %s, drop tables before start", confirmed, pending,
		)
	}

	return nil
}

func saveVersion[T any](ctx context.Context, db *database.DB, ix *indexer.Indexer[T], cfg *config.BaseConfig) error {
	version := database.InitVersion()
	version.Confirmations = cfg.Clear.Confirmations
	version.StartedAt = time.Now()

	build, err := config.ReadBuildVersion()
	if err != nil {
		logger.Warnf("build version unavailable: %v", err)
	} else {
		version.GitTag = build.GitTag
		version.GitHash = build.GitHash
		version.BuildDate = build.BuildDate
	}

	nodeVersion, err := ix.GetServerInfo(ctx)
	if err != nil {
		logger.Warnf("node version unavailable: %v", err)
	}
	version.NodeVersion = nodeVersion

	if err := db.SaveVersion(ctx, version); err != nil {
		return errors.Wrap(err, "saving version")
	}

	logger.Infof("indexer %s (%s) started against node %s", version.GitTag, version.GitHash, nodeVersion)

	return nil
}

// scheduler runs named jobs at a fixed interval. A job never overlaps with
// itself, and each job also runs once right after start.
type scheduler struct {
	ctx     context.Context
	cron    *cron.Cron
	entries []cron.EntryID
	initial sync.WaitGroup
}

func newScheduler(ctx context.Context) *scheduler {
	log := cronLogger{}

	return &scheduler{
		ctx: ctx,
		cron: cron.New(
			cron.WithLogger(log),
			cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
		),
	}
}

func (s *scheduler) every(name string, d time.Duration, run func(context.Context) error) {
	job := cron.FuncJob(func() {
		if s.ctx.Err() != nil {
			return
		}

		start := time.Now()
		if err := run(s.ctx); err != nil {
			logger.Errorf("%s failed: %v", name, err)
			return
		}

		logger.Debugf("%s finished in %v", name, time.Since(start))
	})

	id := s.cron.Schedule(interval(d), job)
	s.entries = append(s.entries, id)

	logger.Infof("scheduled %s every %v", name, d)
}

func (s *scheduler) start() {
	s.cron.Start()

	// Through the wrapped job, so the first run counts for SkipIfStillRunning.
	for _, id := range s.entries {
		job := s.cron.Entry(id).WrappedJob

		s.initial.Add(1)
		go func() {
			defer s.initial.Done()
			job.Run()
		}()
	}
}

func (s *scheduler) stop() {
	<-s.cron.Stop().Done()
	s.initial.Wait()
}

// interval is a constant delay schedule. Unlike cron.Every it keeps
// sub-second precision.
type interval time.Duration

func (i interval) Next(t time.Time) time.Time {
	return t.Add(time.Duration(i))
}
