// Package cli implements the exalotto command line interface.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/exalotto/deployer/internal/chain"
	"github.com/exalotto/deployer/internal/config"
	"github.com/exalotto/deployer/internal/journal"
)

// Version information, set via ldflags during build.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Output formats.
const (
	OutputJSON  = "json"
	OutputYAML  = "yaml"
	OutputTable = "table"
)

// app holds the state shared by the commands of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	envFile string
	output  string

	cfg    *config.Config
	logger *slog.Logger

	dialer chain.Dialer
	// journal overrides the configured journal; used by tests
	journal journal.Repository

	stdout io.Writer
	stderr io.Writer
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		v:      viper.New(),
		dialer: chain.NewEthDialer(),
		stdout: stdout,
		stderr: stderr,
	}
}

// flagKeys maps persistent flags to configuration keys.
var flagKeys = map[string]string{
	"rpc-url":     "rpc_url",
	"chain-id":    "chain_id",
	"owner":       "owner",
	"signer-url":  "signer_url",
	"artifacts":   "artifacts_dir",
	"journal-dsn": "journal_dsn",
	"log-level":   "log_level",
	"log-format":  "log_format",
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "exalotto",
		Short: "Deploy and bootstrap the lottery contracts",
		Long: `exalotto deploys the lottery token, the lottery engine behind an
upgradeable proxy, the timelock controller and the governor, then hands the
administrative roles from the deployer to the owner and the governor.

Configuration (in order of priority):
  1. Command-line flags
  2. Environment variables (EXALOTTO_*, CHAINLINK_VRF_COORDINATOR, CHAINLINK_VRF_KEY_HASH)
  3. .env file in the working directory
  4. Config file (./exalotto.yaml or --config)`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.initConfig,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is ./"+config.DefaultConfigFile+")")
	flags.StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flags.StringVarP(&a.output, "output", "o", OutputJSON, "output format: json, yaml or table")
	flags.String("rpc-url", "", "JSON-RPC endpoint (or EXALOTTO_RPC_URL)")
	flags.Uint64("chain-id", 0, "expected chain id, 0 accepts the node's (or EXALOTTO_CHAIN_ID)")
	flags.String("owner", "", "owner address, defaults to the deployer (or EXALOTTO_OWNER)")
	flags.String("signer-url", "", "remote signer endpoint (or EXALOTTO_SIGNER_URL)")
	flags.String("artifacts", "", "artifacts directory (or EXALOTTO_ARTIFACTS_DIR)")
	flags.String("journal-dsn", "", "Postgres DSN for the journal (or EXALOTTO_JOURNAL_DSN)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")

	for flag, key := range flagKeys {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		a.versionCmd(),
		a.deployCmd(),
		a.deployLotteryCmd(),
		a.preflightCmd(),
		a.configCmd(),
		a.journalCmd(),
	)
	return root
}

// initConfig loads configuration for every command except version.
func (a *app) initConfig(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}
	if a.output != OutputJSON && a.output != OutputYAML && a.output != OutputTable {
		return fmt.Errorf("unknown output format %q", a.output)
	}

	if err := config.LoadDotEnv(a.envFile); err != nil {
		return err
	}
	config.SetDefaults(a.v)
	if err := config.BindEnv(a.v); err != nil {
		return err
	}
	if err := config.ReadFile(a.v, a.cfgFile); err != nil {
		return err
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = cfg.NewLogger(a.stderr)
	slog.SetDefault(a.logger)
	return nil
}

func (a *app) versionCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "exalotto %s\n", Version)
			if verbose {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  commit:  %s\n", Commit)
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  built:   %s\n", BuildDate)
			}
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print commit and build date")
	return cmd
}

// Execute runs the CLI and exits with status 1 on error.
func Execute() {
	if err := ExecuteWithArgs(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// ExecuteWithArgs runs the CLI with the given arguments and writers.
func ExecuteWithArgs(args []string, stdout, stderr io.Writer) error {
	return newApp(stdout, stderr).execute(args)
}

func (a *app) execute(args []string) error {
	root := a.rootCmd()
	root.SetArgs(args)
	return root.Execute()
}
