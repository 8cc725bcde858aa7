// Package main is the entry point for the amend update-script tool.
package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lemonberrylabs/amend/pkg/ast"
	"github.com/lemonberrylabs/amend/pkg/commands"
	"github.com/lemonberrylabs/amend/pkg/config"
	"github.com/lemonberrylabs/amend/pkg/parser"
	"github.com/lemonberrylabs/amend/pkg/recovery"
	"github.com/lemonberrylabs/amend/pkg/runtime"
	"github.com/lemonberrylabs/amend/pkg/ui"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Exit codes of a script run.
const (
	exitParseFailed     = 2
	exitExecutionFailed = 3
)

var rootCmd = &cobra.Command{
	Use:           "amend [flags] [file]",
	Short:         "Parse and run Amend update scripts against an emulated device",
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Version = version + " (commit=" + commit + ", built=" + date + ")"
	rootCmd.SetVersionTemplate("amend version {{.Version}}\n")

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Device configuration file, YAML or TOML (env AMEND_CONFIG)")
	pf.String("base", "", "Sandbox directory for the default device layout (env AMEND_BASE)")
	pf.String("package", "", "Update package that PKG: paths refer to")
	pf.Bool("trace", false, "Log every command and function dispatch")

	rootCmd.Flags().Bool("debug-lex", false, "Print the script's tokens instead of running it")
	rootCmd.Flags().Bool("debug-ast", false, "Print the parsed script before running it")

	rootCmd.AddCommand(checkCmd, commandsCmd, serveCmd)
}

// exitError carries the process exit code for a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "amend: %v\n", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	src, err := readScript(cmd, args)
	if err != nil {
		return err
	}
	if len(src) == 0 {
		fmt.Fprintln(out, "amend: Empty input file")
		return nil
	}

	dev, err := openDevice(cmd, ui.NewConsole(os.Stdout))
	if err != nil {
		return err
	}
	defer dev.Close()

	if debugLex, _ := cmd.Flags().GetBool("debug-lex"); debugLex {
		return dumpTokens(out, src, dev.reg)
	}

	list, err := parser.Parse(src, dev.reg)
	if err != nil {
		return &exitError{code: exitParseFailed, err: fmt.Errorf("parse failed: %w", err)}
	}
	if debugAst, _ := cmd.Flags().GetBool("debug-ast"); debugAst {
		if err := ast.Dump(out, list); err != nil {
			return err
		}
	}
	fmt.Fprintln(out, "amend: Parse successful.")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := runtime.NewEngine(dev.reg).Execute(ctx, list); err != nil {
		return &exitError{
			code: exitExecutionFailed,
			err:  fmt.Errorf("execution failed (%d): %w", runtime.ResultCode(err), err),
		}
	}
	fmt.Fprintln(out, "amend: Execution successful.")
	return nil
}

// readScript reads the script named by args, or stdin when there is none.
func readScript(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	src, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("can't open input file '%s': %w", args[0], err)
	}
	return src, nil
}

func dumpTokens(w io.Writer, src []byte, reg *commands.Registry) error {
	lex := parser.NewLexer(string(src))
	lex.ModeFor = func(name string) parser.Mode {
		if h := reg.FindCommand(name); h != nil && h.ArgumentType() == commands.ArgsBoolean {
			return parser.ModeExpression
		}
		return parser.ModeWords
	}
	tokens, err := lex.Tokenize()
	for _, tok := range tokens {
		fmt.Fprintln(w, tok)
	}
	if err != nil {
		return &exitError{code: exitParseFailed, err: err}
	}
	return nil
}

// device is a configured recovery context with its command registry.
type device struct {
	cfg *config.Config
	ctx *recovery.Context
	reg *commands.Registry
}

func (d *device) Close() error {
	d.reg.Cleanup()
	return d.ctx.Close()
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := envOrDefault("AMEND_CONFIG", "")
	if v, _ := cmd.Flags().GetString("config"); v != "" {
		path = v
	}

	var cfg *config.Config
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	} else {
		base := envOrDefault("AMEND_BASE", filepath.Join(os.TempDir(), "amend-device"))
		if v, _ := cmd.Flags().GetString("base"); v != "" {
			base = v
		}
		cfg = config.Default(base)
	}

	if v, _ := cmd.Flags().GetString("package"); v != "" {
		abs, err := filepath.Abs(v)
		if err != nil {
			return nil, err
		}
		cfg.Package = abs
	}
	return cfg, nil
}

// openDevice loads the configuration and registers the update commands.
// Registration failures exit with status 1.
func openDevice(cmd *cobra.Command, progress ui.Progress) (*device, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	rc, err := recovery.NewContext(cfg, progress)
	if err != nil {
		return nil, err
	}
	reg, err := recovery.NewRegistry(rc)
	if err != nil {
		rc.Close()
		return nil, &exitError{code: 1, err: fmt.Errorf("error registering commands: %w", err)}
	}
	if trace, _ := cmd.Flags().GetBool("trace"); trace {
		reg.SetLogger(log.New(os.Stderr, "TRACE: ", log.Lmicroseconds))
	}
	return &device{cfg: cfg, ctx: rc, reg: reg}, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
