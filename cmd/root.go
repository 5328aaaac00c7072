// -- cmd/root.go --
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gamebench/benchctl/api/schemas"
	"github.com/gamebench/benchctl/internal/config"
	"github.com/gamebench/benchctl/internal/observability"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd is the base command when benchctl is called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "benchctl",
	Short: "benchctl orchestrates automated game benchmark sessions across remote SUTs.",
	Long: `benchctl drives vision-based gameplay automation against remote gaming
machines (Systems Under Test). Each SUT runs an agent exposing screenshot,
input and process control; benchctl decides what to click by sending
screenshots to an external UI-detection service.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "benchctl"})
			return err
		}
		observability.InitializeLogger(cfg.Logger())
		observability.GetLogger().Info("Starting benchctl", zap.String("version", Version))
		return nil
	},
}

// Execute runs the CLI with a signal-aware root context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer observability.Sync()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// parseSutSpec turns a "name=address:port" flag value into a SUT.
func parseSutSpec(spec string) (*schemas.SUT, error) {
	name, hostport, ok := strings.Cut(spec, "=")
	if !ok {
		// Bare address:port; the address doubles as the name.
		hostport = spec
		name = spec
	}
	host, portStr, ok := strings.Cut(hostport, ":")
	if !ok || host == "" {
		return nil, fmt.Errorf("invalid sut spec %q, want name=address:port", spec)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port in sut spec %q", spec)
	}
	return &schemas.SUT{
		ID:      name,
		Name:    name,
		Address: host,
		Port:    port,
		Status:  schemas.SutIdle,
	}, nil
}
