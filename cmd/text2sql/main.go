// Package main is the text2sql CLI entry point.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/text2sql/internal/cli"
	"github.com/hyperjump/text2sql/internal/config"
	"github.com/hyperjump/text2sql/internal/database"
	"github.com/hyperjump/text2sql/internal/extract"
	"github.com/hyperjump/text2sql/internal/knowledge"
	"github.com/hyperjump/text2sql/internal/mcptools"
	"github.com/hyperjump/text2sql/internal/models"
	"github.com/hyperjump/text2sql/internal/pipeline"
	"github.com/hyperjump/text2sql/internal/schema"
	"github.com/hyperjump/text2sql/internal/server"
	"github.com/hyperjump/text2sql/internal/watcher"
	"github.com/hyperjump/text2sql/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/text2sql/config.yaml"

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory takes precedence, and when neither exists the config is built
// from defaults and TEXT2SQL_* environment variables.
// Returns the config and the path that was actually loaded ("" for env-only).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				path = fallback
			}
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			cfg, err := config.FromEnv()
			if err != nil {
				return nil, "", err
			}
			return cfg, "", cfg.Validate()
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	var err error
	switch command {
	case "build":
		err = runBuild(args)
	case "query":
		err = runQuery(args)
	case "validate":
		err = runValidate(args)
	case "explain":
		err = runExplain(args)
	case "schema":
		err = runSchema(args)
	case "add-rule":
		err = runAddRule(args)
	case "export":
		err = runExport(args)
	case "import":
		err = runImport(args)
	case "stats":
		err = runStats(args)
	case "interactive":
		err = runInteractive(args)
	case "server":
		err = runServer(args)
	case "mcp":
		err = runMCP(args)
	case "introspect":
		err = runIntrospect(args)
	case "version", "--version", "-v":
		fmt.Printf("text2sql version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`text2sql - natural language to SQL over a RAG knowledge base

Usage: text2sql <command> [flags] [args]

Commands:
  build         build the knowledge base from the target database or metadata file
  query         convert a question to SQL and execute it
  validate      validate a SQL statement against the knowledge base
  explain       show the execution plan of a SQL statement
  schema        list tables, or describe one with --table
  add-rule      add a business rule (inline or from a pdf/docx/xlsx/odt/rtf/txt file)
  export        export the knowledge base to a JSON file
  import        replace the knowledge base from a JSON export
  stats         show knowledge base statistics
  interactive   read questions from stdin
  server        start the HTTP API
  mcp           serve MCP tools on stdio
  introspect    dump database metadata to a JSON file
  version       print the version

Every command accepts -config <path> and -debug.
`)
}

// commonFlags registers -config and -debug on fs.
func commonFlags(fs *flag.FlagSet) (configPath *string, debug *bool) {
	configPath = fs.String("config", defaultConfigPath, "config file path")
	debug = fs.Bool("debug", false, "enable debug logging")
	return configPath, debug
}

// argsReorder moves any flags (and their values) that appear after positional
// arguments to the front so that flag.Parse sees them. Go's flag package stops
// at the first non-flag argument, so `text2sql query "上周销售额" -output json`
// would otherwise leave -output unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// joinArgs joins positional args with spaces so multi-word questions work with
// or without shell quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// env is what a command needs after flag parsing.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	svc    *pipeline.Service
}

func (e *env) close() {
	if e.svc != nil {
		if err := e.svc.Close(); err != nil {
			e.logger.Warn("close failed", zap.Error(err))
		}
	}
	_ = e.logger.Sync()
}

func setup(ctx context.Context, configPath string, debug bool) (*env, error) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	svc, err := pipeline.Open(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, svc: svc}, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runBuild(args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	force := fs.Bool("force", false, "rebuild even if the knowledge base is not empty")
	rulesPath := fs.String("rules", "", "business rules file (yaml or json); defaults to watch.rules_file")
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	e, err := setup(ctx, *configPath, *debug)
	if err != nil {
		return err
	}
	defer e.close()

	path := *rulesPath
	if path == "" {
		path = e.cfg.Watch.RulesFile
	}
	var rules *knowledge.BusinessRules
	if path != "" {
		if rules, err = knowledge.LoadBusinessRules(path); err != nil {
			return err
		}
	}
	res, err := e.svc.BuildKnowledgeBase(ctx, pipeline.BuildOptions{Force: *force, Rules: rules})
	if err != nil {
		return err
	}
	if res.Skipped {
		fmt.Printf("Knowledge base already has %d documents. Use -force to rebuild.\n", res.Documents)
		return nil
	}
	fmt.Printf("Knowledge base built: %d documents from %d tables.\n", res.Documents, res.Tables)
	return nil
}

func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	maxCorrections := fs.Int("max-corrections", 0, "maximum correction attempts (default pipeline.max_attempts)")
	intermediate := fs.Bool("intermediate", false, "include intermediate steps")
	output := fs.String("output", "text", "output format: text or json")
	xlsxPath := fs.String("xlsx", "", "also save result rows to this Excel file")
	_ = fs.Parse(argsReorder(args))

	question := joinArgs(fs.Args())
	if question == "" {
		fmt.Fprintln(os.Stderr, "Usage: text2sql query [flags] <question>")
		fs.PrintDefaults()
		os.Exit(1)
	}
	format, err := cli.ParseFormat(*output)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	e, err := setup(ctx, *configPath, *debug)
	if err != nil {
		return err
	}
	defer e.close()

	req := models.QueryRequest{Query: question, ShowIntermediate: *intermediate}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "max-corrections" {
			req.MaxCorrections = maxCorrections
		}
	})
	res, err := e.svc.QueryToSQL(ctx, req)
	if err != nil {
		return err
	}
	if err := cli.WriteQueryResult(os.Stdout, res, format); err != nil {
		return err
	}
	if *xlsxPath != "" && len(res.Rows) > 0 {
		if err := cli.WriteRowsXLSX(*xlsxPath, res.Rows); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Saved %d rows to %s\n", len(res.Rows), *xlsxPath)
	}
	return nil
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(args))
	format, err := cli.ParseFormat(*output)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	e, err := setup(ctx, *configPath, *debug)
	if err != nil {
		return err
	}
	defer e.close()

	outcome, err := e.svc.ValidateSQL(ctx, joinArgs(fs.Args()))
	if err != nil {
		return err
	}
	return cli.WriteValidation(os.Stdout, outcome, format)
}

func runExplain(args []string) error {
	fs := flag.NewFlagSet("explain", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(args))
	format, err := cli.ParseFormat(*output)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	e, err := setup(ctx, *configPath, *debug)
	if err != nil {
		return err
	}
	defer e.close()

	plan, err := e.svc.ExplainSQL(ctx, joinArgs(fs.Args()))
	if err != nil {
		return err
	}
	return cli.WriteExplain(os.Stdout, plan, format)
}

func runSchema(args []string) error {
	fs := flag.NewFlagSet("schema", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	table := fs.String("table", "", "describe a single table")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)
	format, err := cli.ParseFormat(*output)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	e, err := setup(ctx, *configPath, *debug)
	if err != nil {
		return err
	}
	defer e.close()

	info, err := e.svc.SchemaInfo(ctx, *table)
	if err != nil {
		return err
	}
	return cli.WriteSchemaInfo(os.Stdout, info, format)
}

// rulesFromFlags resolves the rules to add. With a file and a name, the whole
// document text is the definition. With a file alone, every "name: definition"
// entry of the document becomes a rule.
func rulesFromFlags(name, definition, file string) ([]extract.Rule, error) {
	name, definition = strings.TrimSpace(name), strings.TrimSpace(definition)
	if file == "" {
		if name == "" || definition == "" {
			return nil, errors.New("-name and -definition (or -file) are required")
		}
		return []extract.Rule{{Name: name, Definition: definition}}, nil
	}
	ex := extract.NewExtractor()
	if name != "" {
		text, err := ex.Extract(file)
		if err != nil {
			return nil, err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, fmt.Errorf("no text found in %s", file)
		}
		return []extract.Rule{{Name: name, Definition: text}}, nil
	}
	rules, err := ex.ExtractRules(file)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("no \"name: definition\" rules found in %s", file)
	}
	return rules, nil
}

func runAddRule(args []string) error {
	fs := flag.NewFlagSet("add-rule", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	name := fs.String("name", "", "rule name")
	definition := fs.String("definition", "", "rule definition")
	file := fs.String("file", "", "read the definition (or several rules) from a document")
	_ = fs.Parse(args)

	rules, err := rulesFromFlags(*name, *definition, *file)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	e, err := setup(ctx, *configPath, *debug)
	if err != nil {
		return err
	}
	defer e.close()

	for _, r := range rules {
		if err := e.svc.AddBusinessRule(ctx, r.Name, r.Definition); err != nil {
			return fmt.Errorf("add rule %q: %w", r.Name, err)
		}
		fmt.Printf("Added business rule: %s\n", r.Name)
	}
	return nil
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() != 1 {
		return errors.New("usage: text2sql export <file>")
	}

	ctx, cancel := signalContext()
	defer cancel()
	e, err := setup(ctx, *configPath, *debug)
	if err != nil {
		return err
	}
	defer e.close()

	f, err := os.Create(fs.Arg(0))
	if err != nil {
		return err
	}
	if err := e.svc.Export(ctx, f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Knowledge base exported to %s\n", fs.Arg(0))
	return nil
}

func runImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() != 1 {
		return errors.New("usage: text2sql import <file>")
	}

	ctx, cancel := signalContext()
	defer cancel()
	e, err := setup(ctx, *configPath, *debug)
	if err != nil {
		return err
	}
	defer e.close()

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := e.svc.Import(ctx, f)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d documents from %s\n", n, fs.Arg(0))
	return nil
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)
	format, err := cli.ParseFormat(*output)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	e, err := setup(ctx, *configPath, *debug)
	if err != nil {
		return err
	}
	defer e.close()

	stats, err := e.svc.Stats(ctx)
	if err != nil {
		return err
	}
	return cli.WriteStats(os.Stdout, stats, format)
}

// querier is the part of the service the interactive loop needs.
type querier interface {
	QueryToSQL(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error)
}

// interactiveLoop answers one question per input line until EOF, "exit" or "quit".
// ":json" and ":text" switch the output format; ":steps" toggles intermediate steps.
func interactiveLoop(ctx context.Context, svc querier, in io.Reader, out io.Writer) error {
	format := cli.OutputText
	steps := false
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "text2sql> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "exit", "quit":
			return nil
		case ":json":
			format = cli.OutputJSON
		case ":text":
			format = cli.OutputText
		case ":steps":
			steps = !steps
			fmt.Fprintf(out, "intermediate steps: %v\n", steps)
		default:
			res, err := svc.QueryToSQL(ctx, models.QueryRequest{Query: line, ShowIntermediate: steps})
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
			} else if err := cli.WriteQueryResult(out, res, format); err != nil {
				return err
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprint(out, "\ntext2sql> ")
	}
	return scanner.Err()
}

func runInteractive(args []string) error {
	fs := flag.NewFlagSet("interactive", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	e, err := setup(ctx, *configPath, *debug)
	if err != nil {
		return err
	}
	defer e.close()

	fmt.Println("Enter a question, :json/:text to switch output, :steps for intermediate steps, exit to quit.")
	return interactiveLoop(ctx, e.svc, os.Stdin, os.Stdout)
}

// startWatcher rebuilds the knowledge base when the metadata or rules file changes.
func startWatcher(ctx context.Context, e *env) (*watcher.Watcher, error) {
	w := e.cfg.Watch
	if !w.Enabled || (w.MetadataFile == "" && w.RulesFile == "") {
		return nil, nil
	}
	ws := watcher.NewWatcher(
		[]string{w.MetadataFile, w.RulesFile},
		func(path string) {
			e.logger.Info("Rebuilding knowledge base", zap.String("changed", path))
			if err := e.svc.Rebuild(ctx, w.RulesFile); err != nil {
				e.logger.Warn("watch rebuild failed", zap.String("path", path), zap.Error(err))
			}
		},
		watcher.WithDebounce(w.Debounce),
		watcher.WithLogger(e.logger.Named("watcher")),
	)
	if err := ws.Start(ctx); err != nil {
		return nil, err
	}
	return ws, nil
}

func runServer(args []string) error {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	host := fs.String("host", "", "override server.host")
	port := fs.Int("port", 0, "override server.port")
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	e, err := setup(ctx, *configPath, *debug)
	if err != nil {
		return err
	}
	defer e.close()
	if *host != "" {
		e.cfg.Server.Host = *host
	}
	if *port != 0 {
		e.cfg.Server.Port = *port
	}

	ws, err := startWatcher(ctx, e)
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	if ws != nil {
		defer ws.Stop()
	}

	srv := server.NewServer(e.svc, e.cfg, e.logger.Named("server"))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	e.logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Stop(shutdownCtx)
}

func runMCP(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	_ = fs.Parse(args)

	ctx, cancel := signalContext()
	defer cancel()
	e, err := setup(ctx, *configPath, *debug)
	if err != nil {
		return err
	}
	defer e.close()

	ws, err := startWatcher(ctx, e)
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	if ws != nil {
		defer ws.Stop()
	}
	return mcptools.ServeStdio(e.svc, version, e.logger.Named("mcp"))
}

func runIntrospect(args []string) error {
	fs := flag.NewFlagSet("introspect", flag.ExitOnError)
	configPath, debug := commonFlags(fs)
	out := fs.String("out", "metadata.json", "output file")
	_ = fs.Parse(args)

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug || *debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()
	db, dialect, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	md, err := schema.NewIntrospector(db, dialect, cfg.Database.Name, logger.Named("schema")).Extract(ctx)
	if err != nil {
		return err
	}
	if err := schema.SaveMetadata(*out, md); err != nil {
		return err
	}
	fmt.Printf("Saved metadata for %d tables to %s\n", len(md.Tables), *out)
	return nil
}
