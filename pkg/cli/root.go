package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/qbitflow/bootstrap/pkg/bootstrap"
	"github.com/qbitflow/bootstrap/pkg/bootstrap/common"
	"github.com/qbitflow/bootstrap/pkg/bootstrap/config"
	"github.com/qbitflow/bootstrap/pkg/metrics"
)

// flagBinding maps a command line flag onto the configuration key it
// overrides.
type flagBinding struct {
	flag string
	key  string
}

var flagBindings = []flagBinding{
	{flag: "mint-mode", key: "mint_mode"},
	{flag: "tokens", key: "tokens_file"},
	{flag: "accounts-dir", key: "accounts_dir"},
	{flag: "manifest", key: "manifest_path"},
	{flag: "program-id", key: "program_id"},
	{flag: "show-secrets", key: "show_secrets"},
	{flag: "registry", key: "registry.driver"},
	{flag: "log-level", key: "log_level"},
	{flag: "log-format", key: "log_format"},
}

type options struct {
	out       io.Writer
	logOut    io.Writer
	bootstrap []bootstrap.Option
}

// Execute runs the command line interface and exits the process with status
// 1 on any failure.
func Execute() {
	cmd := NewRootCommand(os.Stdout, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		logrus.StandardLogger().WithError(err).Error("bootstrap failed")
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree. Summaries are printed to out and
// logs to logOut.
func NewRootCommand(out, logOut io.Writer, opts ...bootstrap.Option) *cobra.Command {
	return newRootCommand(&options{out: out, logOut: logOut, bootstrap: opts})
}

func newRootCommand(opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:   "qbitflow-bootstrap <env-file> <co-signer>",
		Short: "Provision wallets, tokens and the payment program on a Solana cluster",
		Long: `qbitflow-bootstrap prepares a Solana cluster for the qbitflow payment system.

It loads or generates the deployer, user and merchant wallets, funds them from
the cluster faucet, creates the configured token mints with an initial balance
for the user, initializes the payment program with the given co-signer and
writes every address to a manifest.

Configuration is read from the env file, then the process environment, then
flags, in increasing order of precedence.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			coSigner, err := parsePublicKey("co-signer", args[1])
			if err != nil {
				return err
			}

			return withBootstrapper(cmd, opts, args[0], func(ctx context.Context, b *bootstrap.Bootstrapper) error {
				_, err := b.Run(ctx, coSigner)
				return err
			})
		},
	}

	flags := root.PersistentFlags()
	flags.String("target", "", `network settings to read from the env file ("" or "test")`)
	flags.String("mint-mode", string(config.MintModeCreateIfAbsent), "create-if-absent or always-create")
	flags.String("tokens", "", "YAML file of tokens to provision")
	flags.String("accounts-dir", "", "directory wallet keypairs and the resource registry are stored in")
	flags.String("manifest", "", "path the address manifest is written to")
	flags.String("program-id", "", "payment program address")
	flags.String("registry", "", "resource registry: file, memory or postgres")
	flags.Bool("show-secrets", false, "print wallet private keys in the summary")
	flags.String("log-level", "", "log level")
	flags.String("log-format", "", "text or json")

	root.AddCommand(
		newInitializeCommand(opts),
		newCreateMintsCommand(opts),
		newUpdateOwnerCommand(opts),
	)

	return root
}

func newInitializeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "initialize <env-file> <co-signer>",
		Short: "Fund the deployer and initialize the payment program",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			coSigner, err := parsePublicKey("co-signer", args[1])
			if err != nil {
				return err
			}

			return withBootstrapper(cmd, opts, args[0], func(ctx context.Context, b *bootstrap.Bootstrapper) error {
				_, err := b.InitializeOnly(ctx, coSigner)
				return err
			})
		},
	}
}

func newCreateMintsCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "create-mints <env-file>",
		Short: "Fund the deployer and create the configured token mints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBootstrapper(cmd, opts, args[0], func(ctx context.Context, b *bootstrap.Bootstrapper) error {
				_, err := b.CreateMintsOnly(ctx)
				return err
			})
		},
	}
}

func newUpdateOwnerCommand(opts *options) *cobra.Command {
	var coSignerKey string

	cmd := &cobra.Command{
		Use:   "update-owner <env-file> <new-owner>",
		Short: "Transfer ownership of the payment program authority",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			newOwner, err := parsePublicKey("new owner", args[1])
			if err != nil {
				return err
			}

			data, err := os.ReadFile(coSignerKey)
			if err != nil {
				return errors.Wrap(err, "failed to read co-signer keypair")
			}
			coSigner, err := common.UnmarshalKeypair(data)
			if err != nil {
				return errors.Wrapf(err, "invalid co-signer keypair %s", coSignerKey)
			}

			return withBootstrapper(cmd, opts, args[0], func(ctx context.Context, b *bootstrap.Bootstrapper) error {
				res, err := b.UpdateOwner(ctx, coSigner, newOwner)
				if err != nil {
					return err
				}

				logrus.StandardLogger().WithField("owner", base58.Encode(res.Owner)).Info("owner updated")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&coSignerKey, "co-signer-key", "", "keypair file of the program co-signer")
	_ = cmd.MarkFlagRequired("co-signer-key")

	return cmd
}

// withBootstrapper loads the configuration for envFile and the command's
// flags, configures logging and metrics, and runs fn with a Bootstrapper.
func withBootstrapper(cmd *cobra.Command, opts *options, envFile string, fn func(context.Context, *bootstrap.Bootstrapper) error) error {
	target, err := cmd.Flags().GetString("target")
	if err != nil {
		return err
	}

	overrides, err := flagOverrides(cmd)
	if err != nil {
		return err
	}

	cfg, err := config.Load(config.Options{
		EnvFile:   envFile,
		Target:    config.Target(target),
		Overrides: overrides,
	})
	if err != nil {
		return err
	}

	app, shutdown := configureLogger(cfg, opts.logOut)
	defer shutdown()

	ctx := metrics.WithApplication(cmd.Context(), app)

	b, err := bootstrap.New(ctx, cfg, append([]bootstrap.Option{bootstrap.WithOutput(opts.out)}, opts.bootstrap...)...)
	if err != nil {
		return err
	}
	defer b.Close()

	return fn(ctx, b)
}

// flagOverrides returns the configuration overrides of the flags that were
// set explicitly.
func flagOverrides(cmd *cobra.Command) (map[string]interface{}, error) {
	overrides := make(map[string]interface{})
	flags := cmd.Flags()

	for _, b := range flagBindings {
		f := flags.Lookup(b.flag)
		if f == nil || !f.Changed {
			continue
		}

		if f.Value.Type() == "bool" {
			value, err := flags.GetBool(b.flag)
			if err != nil {
				return nil, err
			}
			overrides[b.key] = value
			continue
		}
		overrides[b.key] = f.Value.String()
	}

	return overrides, nil
}

func parsePublicKey(name, value string) ([]byte, error) {
	account, err := common.NewAccountFromPublicKeyString(value)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid %s %q", name, value)
	}
	return account.PublicKey().ToBytes(), nil
}
