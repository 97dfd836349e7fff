package commands

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/chainable/ai/provider"
	"github.com/teranos/chainable/am"
	"github.com/teranos/chainable/chain"
	"github.com/teranos/chainable/chainfile"
	"github.com/teranos/chainable/display"
	"github.com/teranos/chainable/errors"
	"github.com/teranos/chainable/internal/version"
	"github.com/teranos/chainable/logger"
	"github.com/teranos/chainable/sink"
	"github.com/teranos/chainable/sym"
)

// RunCmd executes a chain file
var RunCmd = &cobra.Command{
	Use:   "run <chain-file|source>",
	Short: sym.Short("run"),
	Long: `Execute a prompt chain and write its chapters.

The chain source is a local YAML/TOML file or anything go-getter understands
(https://..., git::..., github.com/owner/repo//dir). Remote directories must
contain chain.yaml, chain.yml or chain.toml.

Variables come from the chain's context section, then --vars, then --set.
Steps run in order; a failed step is recorded as null and, unless the chain
says on_step_error: abort, the run continues.

Examples:
  chainable run story.yaml
  chainable run story.yaml --set name=Pip --set mood=sleepy
  chainable run story.yaml --vars "name=Pip mood='very sleepy'"
  chainable run story.yaml --provider anthropic --model claude-3-5-haiku-latest
  chainable run story.yaml --out - # print chapters to stdout
  chainable run story.yaml --watch # rerun when the file or am.toml changes`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

// runFlags are the per-invocation overrides of chain and config settings
type runFlags struct {
	set        []string
	vars       string
	provider   string
	model      string
	out        string
	name       string
	store      bool
	watch      bool
	transcript bool
}

var runOpts runFlags

// stdoutLocation makes the chapters go to stdout instead of a file
const stdoutLocation = "-"

func init() {
	RunCmd.Flags().StringArrayVarP(&runOpts.set, "set", "s", nil, "Set a variable (key=value, repeatable)")
	RunCmd.Flags().StringVar(&runOpts.vars, "vars", "", "Shell-quoted variable assignments")
	RunCmd.Flags().StringVarP(&runOpts.provider, "provider", "p", "", "Model provider (local, openai, openrouter, anthropic, auto)")
	RunCmd.Flags().StringVarP(&runOpts.model, "model", "m", "", "Model override for the chosen provider")
	RunCmd.Flags().StringVarP(&runOpts.out, "out", "o", "", "Output directory for chapters (- for stdout)")
	RunCmd.Flags().StringVar(&runOpts.name, "name", "", "Output base name")
	RunCmd.Flags().BoolVar(&runOpts.store, "store", false, "Also record the run in the database")
	RunCmd.Flags().BoolVarP(&runOpts.watch, "watch", "w", false, "Rerun when the chain file or configuration changes")
	RunCmd.Flags().BoolVar(&runOpts.transcript, "transcript", false, "Send the whole conversation instead of a context window")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	verbosity, _ := cmd.Flags().GetCount("verbose")
	reporter := newReporter(display.ShouldOutputJSON(cmd), verbosity, runOpts.out == stdoutLocation,
		cmd.OutOrStdout(), cmd.ErrOrStderr())

	r := &runner{
		cfg:      cfg,
		flags:    runOpts,
		reporter: reporter,
		stdout:   cmd.OutOrStdout(),
		logger:   logger.ComponentLogger("run"),
	}

	result, err := r.execute(ctx, args[0])
	if jr, ok := reporter.(*display.JSONObserver); ok && jr.Err() != nil {
		r.logger.Warnw("Progress events were dropped", "error", jr.Err())
	}
	if err != nil {
		return err
	}
	if !runOpts.watch {
		return nil
	}
	if result.remote {
		return errors.WithHint(
			errors.NewInvalidRequestError("cannot watch remote chain %s", args[0]),
			"--watch needs a local chain file")
	}
	return r.watch(ctx, args[0], result.path)
}

// newReporter picks the progress output. JSON events share stdout unless the
// chapters are printed there; terminal progress always goes to stderr.
func newReporter(jsonOutput bool, verbosity int, chaptersToStdout bool, stdout, stderr io.Writer) display.Reporter {
	if !jsonOutput {
		return display.NewCLIObserverWithWriter(stderr, verbosity)
	}
	if chaptersToStdout {
		return display.NewJSONObserverWithWriter(stderr)
	}
	return display.NewJSONObserverWithWriter(stdout)
}

// runner executes one chain source with a fixed configuration
type runner struct {
	cfg      *am.Config
	flags    runFlags
	reporter display.Reporter
	stdout   io.Writer
	logger   *zap.SugaredLogger
}

// runResult is what a finished run leaves behind
type runResult struct {
	path    string
	remote  bool
	output  *chain.Output
	summary display.RunSummary
}

// execute resolves, runs and persists one chain.
// Failed steps are not errors; only setup and persistence problems are.
func (r *runner) execute(ctx context.Context, src string) (*runResult, error) {
	start := time.Now()

	workDir, err := os.MkdirTemp("", "chainable-fetch-")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create download directory")
	}
	defer os.RemoveAll(workDir)

	path, err := chainfile.Resolve(ctx, src, chainfile.ResolveConfig{WorkDir: workDir})
	if err != nil {
		return nil, err
	}
	remote := strings.HasPrefix(path, workDir)

	doc, err := chainfile.Load(path)
	if err != nil {
		return nil, err
	}
	if err := doc.Validate(version.Get().Version); err != nil {
		return nil, errors.Wrapf(err, "invalid chain %s", src)
	}

	overrides, err := chainfile.ParseVars(r.flags.set, r.flags.vars)
	if err != nil {
		return nil, err
	}
	vars := chainfile.Merge(doc.Vars(), overrides)

	opts, err := r.engineOptions(doc)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid chain %s", src)
	}

	fallback := "chain"
	if !remote {
		fallback = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	name := first(r.flags.name, doc.OutputName(fallback))
	runID := sink.NewRunID()

	database, err := r.openDatabase()
	if err != nil {
		return nil, err
	}
	if database != nil {
		defer database.Close()
	}

	p, err := provider.ParseProvider(first(r.flags.provider, doc.Provider, r.cfg.Chain.Provider))
	if err != nil {
		return nil, err
	}
	client, err := provider.NewAIClient(r.cfg, p, provider.ClientConfig{
		DB:            database,
		Logger:        logger.ComponentLogger("ai"),
		OperationType: "chain-step",
		EntityType:    "chain",
		EntityID:      runID,
		Model:         first(r.flags.model, doc.Model),
	})
	if err != nil {
		return nil, err
	}

	invCfg := provider.InvokerConfig{
		SystemPrompt: first(doc.SystemPrompt, r.cfg.Chain.SystemPrompt),
		Temperature:  doc.Temperature,
		MaxTokens:    doc.MaxTokens,
		Logger:       logger.ComponentLogger("invoker"),
	}
	var invoker chain.Invoker
	if r.flags.transcript || r.cfg.Chain.Transcript {
		// the transcript already carries every earlier reply
		invoker = provider.NewTranscript(client, invCfg)
		none := 0
		opts.MaxContextWindow = &none
	} else {
		invoker = provider.NewInvoker(client, invCfg)
	}
	invoker = provider.WithRateLimit(invoker, r.cfg.Chain.RequestsPerMinute)

	ctx = logger.WithChain(logger.WithRunID(ctx, runID), name)
	r.reporter.Info(fmt.Sprintf("Running %s (%d steps) with %v", name, len(doc.Prompts), client))
	r.logger.Infow("Chain started",
		"run_id", runID,
		"chain", name,
		"steps", len(doc.Prompts),
		"provider", p)

	out, runErr := chain.Run(ctx, vars, invoker, doc.Prompts, opts)
	if out == nil {
		return nil, runErr
	}
	if runErr != nil {
		r.reporter.Error("chain", runErr)
	}

	location := r.outputLocation(doc, src, remote)
	// An interrupt cancels ctx; completed chapters are still written
	persistCtx := context.WithoutCancel(ctx)
	artifacts, err := sink.NewMulti(r.sinks(database)...).PersistAll(persistCtx, sink.Document{
		Name:     name,
		Location: location,
		RunID:    runID,
		Entries:  out.Entries(),
		Prompts:  out.Prompts,
	})
	if err != nil {
		r.reporter.Error("persist", err)
		return nil, errors.Wrap(err, "failed to persist run")
	}

	summary := display.RunSummary{
		Name:     name,
		RunID:    runID,
		Steps:    out.Len(),
		Failed:   out.Failed(),
		Duration: time.Since(start),
	}
	if len(artifacts) > 0 {
		summary.Location = artifacts[0].Location
	}
	r.reporter.Complete(summary)

	r.logger.Infow("Chain finished",
		"run_id", runID,
		"chain", name,
		"failed", len(summary.Failed),
		logger.FieldDurationMS, summary.Duration.Milliseconds())

	return &runResult{path: path, remote: remote, output: out, summary: summary}, nil
}

// outputLocation picks the chapter directory: --out, then the document's
// output.dir. Remote chains do not choose where files are written.
func (r *runner) outputLocation(doc *chainfile.Document, src string, remote bool) string {
	docDir := doc.Output.Dir
	if remote && docDir != "" {
		r.logger.Warnw("Ignoring output.dir from remote chain", "chain", src, "dir", docDir)
		docDir = ""
	}
	location := first(r.flags.out, docDir)
	if location == stdoutLocation {
		return ""
	}
	return location
}

// engineOptions layers the chain document over the [chain] config defaults
func (r *runner) engineOptions(doc *chainfile.Document) (chain.Options, error) {
	opts, err := doc.EngineOptions()
	if err != nil {
		return chain.Options{}, err
	}

	if doc.MaxContextWindow == nil {
		opts.MaxContextWindow = r.cfg.Chain.MaxContextWindow
	}
	if doc.OnStepError == "" {
		if opts.OnStepError, err = chain.ParseStepErrorPolicy(r.cfg.Chain.OnStepError); err != nil {
			return chain.Options{}, err
		}
	}
	if doc.ReplyMode == "" {
		if opts.ReplyMode, err = chain.ParseReplyMode(r.cfg.Chain.ReplyMode); err != nil {
			return chain.Options{}, err
		}
	}

	opts.Observer = r.reporter
	opts.Logger = logger.ComponentLogger("chain")
	return opts, opts.Validate()
}

func (r *runner) storeRuns() bool {
	return r.flags.store || r.cfg.Output.StoreRuns
}

// openDatabase returns nil without error when the database is only needed for
// usage tracking and cannot be opened
func (r *runner) openDatabase() (*sql.DB, error) {
	database, err := openDatabase(r.cfg)
	if err == nil {
		return database, nil
	}
	if r.storeRuns() {
		return nil, err
	}
	r.logger.Warnw("Usage tracking disabled", "error", err)
	return nil, nil
}

func (r *runner) sinks(database *sql.DB) []sink.Sink {
	var sinks []sink.Sink
	if r.flags.out == stdoutLocation {
		sinks = append(sinks, sink.SinkFunc(func(ctx context.Context, doc sink.Document) (*sink.Artifact, error) {
			text := sink.Render(doc.Entries)
			if _, err := io.WriteString(r.stdout, text); err != nil {
				return nil, errors.Wrap(err, "failed to write chapters")
			}
			return &sink.Artifact{Text: text}, nil
		}))
	} else {
		sinks = append(sinks, &sink.MarkdownSink{
			DefaultDir: r.cfg.Output.Dir,
			Logger:     logger.ComponentLogger("sink"),
		})
	}
	if r.storeRuns() && database != nil {
		sinks = append(sinks, sink.NewRunStore(database, logger.ComponentLogger("store")))
	}
	return sinks
}

// watch reruns src whenever the chain file or a config file changes, until
// ctx is cancelled. Rerun failures are reported and do not stop the loop.
func (r *runner) watch(ctx context.Context, src, path string) error {
	chainPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, "failed to resolve chain path")
	}

	watcher, err := am.NewConfigWatcher(append([]string{chainPath}, am.ConfigFiles()...)...)
	if err != nil {
		return errors.Wrap(err, "failed to watch chain")
	}
	defer watcher.Stop()

	var reload atomic.Bool
	trigger := make(chan struct{}, 1)
	watcher.OnChange(func(paths []string) {
		for _, p := range paths {
			if p != chainPath {
				reload.Store(true)
			}
		}
		select {
		case trigger <- struct{}{}:
		default:
		}
	})
	watcher.Start(ctx)

	r.reporter.Info("Watching for changes (Ctrl+C to stop)")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-trigger:
		}

		if reload.Swap(false) {
			am.Reset()
			cfg, err := loadConfig()
			if err != nil {
				r.reporter.Error("config", err)
				continue
			}
			r.cfg = cfg
		}
		if _, err := r.execute(ctx, src); err != nil {
			r.reporter.Error("run", err)
		}
	}
}

// first returns the first non-empty value
func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
