package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sigweihq/ebookpay/pkg/config"
)

var (
	cfgFile   string
	cfg       *config.Config
	flags     config.Flags
	logLevel  string
	logFormat string
	assumeYes bool
	version   = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "ebookctl",
	Short: "Publish, buy and read ebooks sold as NFTs",
	Long: `ebookctl talks to the ebook sales contracts: it lists ebooks for sale,
publishes new ones through IPFS pinning, buys copies and withdraws earnings.

Every transaction is simulated first and asks for confirmation before signing
unless --yes is given.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(cmd.ErrOrStderr(), logLevel, logFormat)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		if _, statErr := os.Stat(cfgFile); os.IsNotExist(statErr) {
			cfg = &config.Config{}
		} else {
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
		}
		if err := cfg.Validate(&flags); err != nil {
			return fmt.Errorf("invalid config %s: %w", cfgFile, err)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ebookctl %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "ebookctl.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&flags.Network, "network", "", "network name (bsc, bsc-testnet, base, base-sepolia, local)")
	rootCmd.PersistentFlags().StringVar(&flags.RPCURL, "rpc", "", "comma separated RPC endpoints")
	rootCmd.PersistentFlags().StringVar(&flags.Gateway, "gateway", "", "IPFS gateway prefix or {cid} template")
	rootCmd.PersistentFlags().StringVar(&flags.PrivateKey, "private-key", "", "hex private key of the sending account")
	rootCmd.PersistentFlags().StringVar(&flags.PinningJWT, "pinning-jwt", "", "Pinata JWT used by publish")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "sign transactions without asking")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(libraryCmd)
	rootCmd.AddCommand(ownsCmd)
	rootCmd.AddCommand(allowanceCmd)
	rootCmd.AddCommand(earningsCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(purchaseCmd)
	rootCmd.AddCommand(withdrawCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q: must be text or json", format)
	}
}

func SetVersion(v string) {
	version = v
}

func Execute() error {
	return rootCmd.Execute()
}

func Root() *cobra.Command {
	return rootCmd
}
