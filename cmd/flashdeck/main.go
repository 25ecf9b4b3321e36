package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/conorfennell/flashdeck/internal/config"
	"github.com/conorfennell/flashdeck/internal/deckstore"
	"github.com/conorfennell/flashdeck/internal/domain"
	"github.com/conorfennell/flashdeck/internal/gitsource"
	"github.com/conorfennell/flashdeck/internal/logging"
	"github.com/conorfennell/flashdeck/internal/parser"
	"github.com/conorfennell/flashdeck/internal/storage"
	"github.com/conorfennell/flashdeck/internal/sync"
	"github.com/conorfennell/flashdeck/internal/web"
)

const usage = `Usage:
  flashdeck [flags]                           serve the decks
  flashdeck import --deck NAME PATH...        import Q:/A: markdown cards
  flashdeck standalone DIR                    write an offline copy to DIR

Flags:
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "flashdeck: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// 1. Define and parse command-line flags
	flags := pflag.NewFlagSet("flashdeck", pflag.ContinueOnError)
	config.RegisterFlags(flags)
	deck := flags.String("deck", "", "Deck to import cards into")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	// 2. Load configuration and set up logging
	cfg, err := config.Load(flags)
	if err != nil {
		return err
	}
	logger, logCloser, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// 3. Run the command
	switch cmd := flags.Arg(0); cmd {
	case "", "serve":
		return serve(ctx, cfg, logger)
	case "import":
		return importCards(ctx, cfg, logger, *deck, flags.Args()[1:])
	case "standalone":
		if flags.NArg() != 2 {
			return errors.New("standalone needs exactly one target directory")
		}
		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		return web.ExportStandalone(ctx, flags.Arg(1), store, logger)
	default:
		flags.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// openStore returns the configured deck store. The file backend is seeded
// from the history remote first when one is set.
func openStore(ctx context.Context, cfg *config.Config) (deckstore.Store, error) {
	if cfg.Store.Backend == "s3" {
		s3cfg := deckstore.S3Config{
			Endpoint:     cfg.Store.S3.Endpoint,
			Bucket:       cfg.Store.S3.Bucket,
			Region:       cfg.Store.S3.Region,
			AccessKey:    cfg.Store.S3.AccessKey,
			SecretKey:    cfg.Store.S3.SecretKey,
			Prefix:       cfg.Store.S3.Prefix,
			UsePathStyle: cfg.Store.S3.UsePathStyle,
		}
		client, err := deckstore.NewS3Client(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		slog.Info("Using S3 deck store", "bucket", s3cfg.Bucket, "prefix", s3cfg.Prefix)
		return deckstore.NewS3Store(client, s3cfg.Bucket, s3cfg.Prefix), nil
	}

	if cfg.History.Remote != "" {
		if err := gitsource.Seed(cfg.History.Remote, cfg.Store.Dir); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(cfg.Store.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create deck directory %s: %w", cfg.Store.Dir, err)
	}
	slog.Info("Using deck directory", "dir", cfg.Store.Dir)
	return deckstore.NewFileStore(cfg.Store.Dir), nil
}

// openService wires the store, journal and history into a sync service.
// The returned closers must be closed once the service is done.
func openService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sync.Service, deckstore.Store, []io.Closer, error) {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	opts := []sync.Option{sync.WithLogger(logger)}
	var closers []io.Closer
	if cfg.Journal.Path != "" {
		db, err := storage.Open(cfg.Journal.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		closers = append(closers, db)
		opts = append(opts, sync.WithJournal(db))
		logger.Info("Sync journal opened", "path", cfg.Journal.Path)
	}
	if cfg.History.Git {
		history, err := gitsource.OpenHistory(cfg.Store.Dir, cfg.History.AuthorName, cfg.History.AuthorEmail)
		if err != nil {
			closeAll(closers)
			return nil, nil, nil, err
		}
		opts = append(opts, sync.WithHistory(history))
		logger.Info("Deck history enabled", "dir", cfg.Store.Dir)
	}
	return sync.NewService(store, opts...), store, closers, nil
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			slog.Warn("Failed to close", "error", err)
		}
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	svc, store, closers, err := openService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeAll(closers)

	handler, err := web.NewServer(svc, store, web.Options{
		SyncEnabled:  cfg.Sync.Enabled,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", cfg.Server.Addr, "sync", cfg.Sync.Enabled)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	return nil
}

// importCards parses markdown files, walking directories for *.md, and
// upserts the cards into one deck.
func importCards(ctx context.Context, cfg *config.Config, logger *slog.Logger, deck string, paths []string) error {
	if err := domain.ValidateDeckName(deck); err != nil {
		return fmt.Errorf("import needs --deck: %w", err)
	}
	if len(paths) == 0 {
		return errors.New("import needs at least one markdown file or directory")
	}

	var cards []domain.Card
	var parseErrs []error
	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
				return nil
			}
			fileCards, parseErr := parser.ParseFile(path)
			if parseErr != nil {
				parseErrs = append(parseErrs, fmt.Errorf("error parsing %s: %w", path, parseErr))
			}
			cards = append(cards, fileCards...)
			return nil
		})
		if err != nil {
			return fmt.Errorf("error walking %s: %w", root, err)
		}
	}
	for _, e := range parseErrs {
		logger.Warn("Skipped file", "error", e)
	}

	svc, _, closers, err := openService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeAll(closers)

	if err := svc.UpsertAll(ctx, deck, cards); err != nil {
		return err
	}
	fmt.Printf("Imported %d cards into %s, %d errors.\n", len(cards), deck, len(parseErrs))
	return nil
}
