package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/peterbourgon/ff/v4/ffyaml"

	"github.com/zombor/bill-ledger/internal/ledger"
	"github.com/zombor/bill-ledger/internal/pipeline"
	"github.com/zombor/bill-ledger/internal/report"
	"github.com/zombor/bill-ledger/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// API keys usually live in .env next to the binary
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	rootFlags := ff.NewFlagSet("bill-ledger")
	rootFlags.StringLong("config", "", "YAML config file (optional)")
	var (
		debug       = rootFlags.BoolLong("debug", "Enable debug logging")
		showVersion = rootFlags.BoolLong("version", "Show version information")
		storePath   = rootFlags.StringLong("store", "database.csv", "Consolidated CSV store path")
		schemaPath  = rootFlags.StringLong("schema", "data_model.csv", "Schema definition (CSV or XLSX) with a Field column")
		archivePath = rootFlags.StringLong("archive", "bill-ledger.db", "Extraction archive file path")
		inboxDir    = rootFlags.StringLong("inbox", "./bills", "Directory of scanned bills")
		reportsDir  = rootFlags.StringLong("reports", "./reports", "Report output directory")
		scannerType = rootFlags.StringLong("scanner", "gemini", "Scanner type: 'gemini' or 'ollama'")
		geminiKey   = rootFlags.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = rootFlags.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL   = rootFlags.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = rootFlags.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
	)

	env := &environment{
		storePath:   storePath,
		schemaPath:  schemaPath,
		archivePath: archivePath,
		inboxDir:    inboxDir,
		reportsDir:  reportsDir,
		scannerType: scannerType,
		geminiKey:   geminiKey,
		geminiModel: geminiModel,
		ollamaURL:   ollamaURL,
		ollamaModel: ollamaModel,
	}

	ingestFlags := ff.NewFlagSet("ingest").SetParent(rootFlags)
	var (
		limit       = ingestFlags.IntLong("limit", 0, "Maximum number of new files to process (0 means all)")
		concurrency = ingestFlags.IntLong("concurrency", 4, "Parallel extraction calls")
	)
	ingest := &ff.Command{
		Name:      "ingest",
		Usage:     "bill-ledger ingest [FLAGS]",
		ShortHelp: "extract new bills from the inbox and merge them into the store",
		Flags:     ingestFlags,
		Exec: func(ctx context.Context, args []string) error {
			return env.ingest(ctx, *limit, *concurrency)
		},
	}

	consolidate := &ff.Command{
		Name:      "consolidate",
		Usage:     "bill-ledger consolidate",
		ShortHelp: "merge every archived extraction into the store",
		Flags:     ff.NewFlagSet("consolidate").SetParent(rootFlags),
		Exec: func(ctx context.Context, args []string) error {
			return env.consolidate(ctx)
		},
	}

	reportCmd := &ff.Command{
		Name:      "report",
		Usage:     "bill-ledger report",
		ShortHelp: "write the spending report from the store",
		Flags:     ff.NewFlagSet("report").SetParent(rootFlags),
		Exec: func(ctx context.Context, args []string) error {
			return env.report()
		},
	}

	serveFlags := ff.NewFlagSet("serve").SetParent(rootFlags)
	var (
		port     = serveFlags.IntLong("port", 8080, "HTTP server port")
		authUser = serveFlags.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass = serveFlags.StringLong("auth-pass", "", "Basic auth password (optional)")
	)
	serve := &ff.Command{
		Name:      "serve",
		Usage:     "bill-ledger serve [FLAGS]",
		ShortHelp: "run the HTTP API for uploads and reports",
		Flags:     serveFlags,
		Exec: func(ctx context.Context, args []string) error {
			return env.serve(ctx, *port, pipeline.BasicAuth{Username: *authUser, Password: *authPass})
		},
	}

	root := &ff.Command{
		Name:        "bill-ledger",
		Usage:       "bill-ledger [FLAGS] <SUBCOMMAND>",
		Flags:       rootFlags,
		Subcommands: []*ff.Command{ingest, consolidate, reportCmd, serve},
	}

	if err := root.Parse(args,
		ff.WithEnvVarPrefix("BILL_LEDGER"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ffyaml.Parse),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
		if errors.Is(err, ff.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parsing flags: %w", err)
	}

	if *showVersion {
		fmt.Println(version)
		return nil
	}
	if *debug {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	if err := root.Run(ctx); err != nil {
		if errors.Is(err, ff.ErrNoExec) {
			fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.GetSelected()))
			return errors.New("missing subcommand")
		}
		return err
	}
	return nil
}

// environment holds the parsed shared flags and builds the components each command needs
type environment struct {
	storePath   *string
	schemaPath  *string
	archivePath *string
	inboxDir    *string
	reportsDir  *string
	scannerType *string
	geminiKey   *string
	geminiModel *string
	ollamaURL   *string
	ollamaModel *string
}

func (e *environment) newExtractor(ctx context.Context) (scanning.Extractor, error) {
	switch *e.scannerType {
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *e.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("gemini API key is required; set --gemini-key or GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini scanner...", "model", *e.geminiModel)
		return scanning.NewGemini(ctx, apiKey, *e.geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama scanner...", "url", *e.ollamaURL, "model", *e.ollamaModel)
		return scanning.NewOllama(*e.ollamaURL, *e.ollamaModel)
	}
	return nil, fmt.Errorf("invalid scanner type %q (want gemini or ollama)", *e.scannerType)
}

// withService opens the archive, inbox and extractor, runs fn and closes everything
func (e *environment) withService(ctx context.Context, cfg pipeline.Config, needExtractor bool, fn func(*pipeline.Service) error) error {
	slog.Info("Initializing archive...", "path", *e.archivePath)
	archive, err := pipeline.NewBoltDB(*e.archivePath)
	if err != nil {
		return err
	}
	defer archive.Close()

	storage, err := pipeline.NewLocalStorage(*e.inboxDir)
	if err != nil {
		return err
	}

	var extractor scanning.Extractor
	if needExtractor {
		extractor, err = e.newExtractor(ctx)
		if err != nil {
			return fmt.Errorf("initializing scanner: %w", err)
		}
		defer extractor.Close()
	}

	cfg.SchemaPath = *e.schemaPath
	cfg.ReportsDir = *e.reportsDir
	service := pipeline.NewService(archive, extractor, storage, ledger.NewStore(*e.storePath), cfg)
	return fn(service)
}

func (e *environment) ingest(ctx context.Context, limit, concurrency int) error {
	return e.withService(ctx, pipeline.Config{Concurrency: concurrency}, true, func(service *pipeline.Service) error {
		run, err := service.Ingest(ctx, limit)
		if err != nil {
			return err
		}
		fmt.Printf("Processed %d file(s): %d extracted, %d failed, %d merged, %d skipped\n",
			run.Files, run.Extracted, len(run.Failed), run.Merge.Accepted, run.Merge.Skipped)
		for _, name := range run.Failed {
			fmt.Printf("  failed: %s\n", name)
		}
		return nil
	})
}

func (e *environment) consolidate(ctx context.Context) error {
	return e.withService(ctx, pipeline.Config{}, false, func(service *pipeline.Service) error {
		run, err := service.Consolidate(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Consolidated %d archived bill(s): %d merged, %d already stored, %d invalid\n",
			run.Files, run.Merge.Accepted, run.Merge.Duplicates, len(run.Merge.Invalid))
		return nil
	})
}

func (e *environment) report() error {
	artifacts, err := report.Generate(ledger.NewStore(*e.storePath), *e.reportsDir)
	if err != nil {
		return err
	}
	fmt.Printf("Report written to %s\n", artifacts.Markdown)
	if artifacts.Workbook != "" {
		fmt.Printf("Workbook written to %s\n", artifacts.Workbook)
	}
	return nil
}

func (e *environment) serve(ctx context.Context, port int, basicAuth pipeline.BasicAuth) error {
	return e.withService(ctx, pipeline.Config{}, true, func(service *pipeline.Service) error {
		server := pipeline.NewServer(service, basicAuth)

		addr := fmt.Sprintf(":%d", port)
		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(addr)
		}()

		slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
		if basicAuth.Username != "" || basicAuth.Password != "" {
			slog.Info("Basic auth enabled", "user", basicAuth.Username)
		}

		// Wait for interrupt signal
		select {
		case err := <-errCh:
			return fmt.Errorf("server error: %w", err)
		case <-ctx.Done():
			slog.Info("Shutting down...")
			return nil
		}
	})
}
