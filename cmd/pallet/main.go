// Command pallet converges declarative infrastructure phases: it loads a plan
// file, builds and translates each phase's action plan, and executes it
// against the local node, journaling every run.
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/digideskio/pallet/internal/actions"
	"github.com/digideskio/pallet/internal/diagram"
	"github.com/digideskio/pallet/internal/engine"
	"github.com/digideskio/pallet/internal/logging"
	"github.com/digideskio/pallet/internal/planfile"
	"github.com/digideskio/pallet/internal/runner"
	"github.com/digideskio/pallet/internal/scheduler"
	"github.com/digideskio/pallet/internal/secrets"
	"github.com/digideskio/pallet/internal/session"
	"github.com/digideskio/pallet/internal/store"
	"github.com/digideskio/pallet/pkg/mcp"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: pallet <command> [flags]

commands:
  run      converge a phase from the plan file
  plan     translate a phase and print the action plan without executing
  actions  list the registered action vocabulary
  history  query past runs
  secret   manage vault secrets (set, get, rm, ls)
  mcp      serve the MCP tool surface on stdio
  version  print the version`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(os.Args[2:])
	case "plan":
		err = cmdPlan(os.Args[2:])
	case "actions":
		err = cmdActions(os.Args[2:])
	case "history":
		err = cmdHistory(os.Args[2:])
	case "secret":
		err = cmdSecret(os.Args[2:])
	case "mcp":
		err = cmdMCP(os.Args[2:])
	case "version":
		printVersion()
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "pallet:", err)
		os.Exit(1)
	}
}

// app is the wired dependency set shared by the subcommands.
type app struct {
	cfg      Config
	logger   *slog.Logger
	registry *actions.Registry
	store    store.Store
	runner   *runner.Runner
}

func bootstrap(withJournal bool) (*app, error) {
	cfg := loadConfig()
	logger := newLogger(cfg)

	registry := actions.NewRegistry()
	if err := actions.RegisterBuiltins(registry); err != nil {
		return nil, err
	}

	var st store.Store
	if withJournal {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		libsql, err := store.NewLibSQLStore("file:" + cfg.DBPath)
		if err != nil {
			return nil, err
		}
		if err := libsql.Migrate(context.Background()); err != nil {
			libsql.Close()
			return nil, err
		}
		st = libsql
	}

	eng, err := engine.New(logger)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		store:    st,
		runner:   runner.New(eng, st, logger),
	}, nil
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
}

func newLogger(cfg Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(logging.NewCorrelationHandler(handler))
}

// setFlags collects repeated --set key=value session overrides.
type setFlags map[string]any

func (s setFlags) String() string { return "" }

func (s setFlags) Set(kv string) error {
	k, v, ok := strings.Cut(kv, "=")
	if !ok {
		return fmt.Errorf("expected key=value, got %q", kv)
	}
	var parsed any
	if err := json.Unmarshal([]byte(v), &parsed); err != nil {
		parsed = v // plain string
	}
	s[k] = parsed
	return nil
}

// seedSession builds the run session: plan-file values (secret markers
// resolved when a vault passphrase is configured) plus --set overrides.
func seedSession(a *app, f *planfile.File, overrides setFlags) (*session.Session, error) {
	var sess *session.Session
	vault, err := a.vault()
	if err != nil {
		return nil, err
	}
	if vault != nil {
		if sess, err = f.SessionWithSecrets(context.Background(), vault); err != nil {
			return nil, err
		}
	} else {
		sess = f.Session()
	}
	for k, v := range overrides {
		sess = sess.With(k, v)
	}
	return sess, nil
}

// vault builds the AES vault when PALLET_VAULT_PASSPHRASE is set. The salt
// lives next to the database and is generated on first use.
func (a *app) vault() (secrets.Vault, error) {
	passphrase := os.Getenv("PALLET_VAULT_PASSPHRASE")
	if passphrase == "" {
		return nil, nil
	}
	if a.store == nil {
		return nil, fmt.Errorf("vault requires the journal store")
	}
	salt, err := loadOrCreateSalt(filepath.Join(palletDir(), "vault.salt"))
	if err != nil {
		return nil, err
	}
	return secrets.NewAESVault(a.store, secrets.VaultConfig{Passphrase: passphrase, Salt: salt})
}

func loadOrCreateSalt(path string) ([]byte, error) {
	if salt, err := os.ReadFile(path); err == nil && len(salt) > 0 {
		return salt, nil
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate vault salt: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("write vault salt: %w", err)
	}
	return salt, nil
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	file := fs.String("f", "", "plan file (defaults to config)")
	phaseName := fs.String("phase", "", "phase to run (defaults to the only phase, or \"configure\")")
	every := fs.String("every", "", "cron expression: keep re-converging on this schedule")
	tolerant := fs.Bool("continue-on-error", false, "collect errors instead of stopping at the first")
	overrides := setFlags{}
	fs.Var(overrides, "set", "session value override, key=value (repeatable)")
	fs.Parse(args)

	a, err := bootstrap(true)
	if err != nil {
		return err
	}
	defer a.close()

	if *file == "" {
		*file = a.cfg.PlanFile
	}
	f, err := planfile.Load(*file)
	if err != nil {
		return err
	}
	name, err := pickPhase(f, *phaseName)
	if err != nil {
		return err
	}
	phase, err := f.PhaseFn(name, a.registry)
	if err != nil {
		return err
	}
	sess, err := seedSession(a, f, overrides)
	if err != nil {
		return err
	}

	var statusFn engine.StatusFn
	var collector *engine.ErrorCollector
	if *tolerant {
		collector = engine.NewErrorCollector()
		statusFn = collector.Status
	}

	if *every != "" {
		return runOnSchedule(a, name, phase, sess, statusFn, *every)
	}

	ctx := context.Background()
	run, res, _, err := a.runner.Converge(ctx, name, phase, sess, engine.DefaultExecutor(), statusFn)
	if err != nil {
		return err
	}

	fmt.Printf("run %s: %s\n", run.ID, run.Status)
	if res.Err != nil {
		return res.Err
	}
	if collector != nil {
		for _, e := range collector.Errors() {
			fmt.Fprintln(os.Stderr, "error:", e.Error())
		}
		if len(collector.Errors()) > 0 {
			return fmt.Errorf("%d action(s) failed", len(collector.Errors()))
		}
	}
	return nil
}

// pickPhase resolves the phase to run: an explicit name, the file's single
// phase, or "configure" when defined.
func pickPhase(f *planfile.File, name string) (string, error) {
	if name != "" {
		return name, nil
	}
	names := f.PhaseNames()
	if len(names) == 1 {
		return names[0], nil
	}
	for _, n := range names {
		if n == "configure" {
			return n, nil
		}
	}
	return "", fmt.Errorf("plan file defines phases %v, pick one with --phase", names)
}

func runOnSchedule(a *app, name string, phase engine.PhaseFn, sess *session.Session, statusFn engine.StatusFn, cronExpr string) error {
	sched := scheduler.NewScheduler(a.runner, a.logger)
	job := &scheduler.Job{
		ID:       "cli/" + name,
		Phase:    name,
		CronExpr: cronExpr,
		PhaseFn:  phase,
		Session:  sess,
		Executor: engine.DefaultExecutor(),
		StatusFn: statusFn,
	}
	if err := sched.AddJob(job); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return sched.Stop()
}

func cmdPlan(args []string) error {
	fs := flag.NewFlagSet("plan", flag.ExitOnError)
	file := fs.String("f", "", "plan file (defaults to config)")
	phaseName := fs.String("phase", "", "phase to translate")
	format := fs.String("format", "text", "output format: text or mermaid")
	overrides := setFlags{}
	fs.Var(overrides, "set", "session value override, key=value (repeatable)")
	fs.Parse(args)

	a, err := bootstrap(false)
	if err != nil {
		return err
	}
	defer a.close()

	if *file == "" {
		*file = a.cfg.PlanFile
	}
	f, err := planfile.Load(*file)
	if err != nil {
		return err
	}
	name, err := pickPhase(f, *phaseName)
	if err != nil {
		return err
	}
	phase, err := f.PhaseFn(name, a.registry)
	if err != nil {
		return err
	}

	sess, err := seedSession(a, f, overrides)
	if err != nil {
		return err
	}
	p, _, err := a.runner.Engine().BuildPlan(context.Background(), phase, sess)
	if err != nil {
		return err
	}

	switch *format {
	case "mermaid":
		model, err := diagram.FromPlan(name, p)
		if err != nil {
			return err
		}
		fmt.Print(diagram.RenderMermaid(model))
	default:
		fmt.Print(p.String())
	}
	return nil
}

func cmdSecret(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: pallet secret <set|get|rm|ls> [key] [value]")
	}

	a, err := bootstrap(true)
	if err != nil {
		return err
	}
	defer a.close()

	vault, err := a.vault()
	if err != nil {
		return err
	}
	if vault == nil {
		return fmt.Errorf("set PALLET_VAULT_PASSPHRASE to use the vault")
	}

	ctx := context.Background()
	switch args[0] {
	case "set":
		if len(args) != 3 {
			return fmt.Errorf("usage: pallet secret set <key> <value>")
		}
		return vault.Store(ctx, args[1], []byte(args[2]))
	case "get":
		if len(args) != 2 {
			return fmt.Errorf("usage: pallet secret get <key>")
		}
		value, err := vault.Resolve(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Println(string(value))
		return nil
	case "rm":
		if len(args) != 2 {
			return fmt.Errorf("usage: pallet secret rm <key>")
		}
		return vault.Delete(ctx, args[1])
	case "ls":
		keys, err := vault.List(ctx)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil
	default:
		return fmt.Errorf("unknown secret command %q", args[0])
	}
}

func cmdActions(args []string) error {
	fs := flag.NewFlagSet("actions", flag.ExitOnError)
	fs.Parse(args)

	a, err := bootstrap(false)
	if err != nil {
		return err
	}
	defer a.close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tIMPLS\tDESCRIPTION")
	for _, info := range a.registry.List() {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", info.Name, info.Kind, info.Impls, info.Description)
	}
	return w.Flush()
}

func cmdHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	runID := fs.String("run", "", "show one run with its action events")
	phase := fs.String("phase", "", "filter runs by phase")
	status := fs.String("status", "", "filter runs by status")
	limit := fs.Int("limit", 20, "maximum runs to list")
	fs.Parse(args)

	a, err := bootstrap(true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	if *runID != "" {
		run, err := a.store.GetRun(ctx, *runID)
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run not found: %s", *runID)
		}
		events, err := a.store.ListActionEvents(ctx, *runID)
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(map[string]any{"run": run, "events": events}, "", "  ")
		fmt.Println(string(out))
		return nil
	}

	runs, err := a.store.ListRuns(ctx, store.RunFilter{Phase: *phase, Status: *status, Limit: *limit})
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tPHASE\tSTATUS\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Phase, r.Status, r.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func cmdMCP(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	file := fs.String("f", "", "plan file (defaults to config)")
	fs.Parse(args)

	a, err := bootstrap(true)
	if err != nil {
		return err
	}
	defer a.close()

	if *file == "" {
		*file = a.cfg.PlanFile
	}
	f, err := planfile.Load(*file)
	if err != nil {
		return err
	}

	srv := mcp.NewPalletServer(mcp.PalletServerDeps{
		Runner:   a.runner,
		Registry: a.registry,
		Store:    a.store,
		File:     f,
		Logger:   a.logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Serve(ctx)
}
