// Package cli is squaled's command-line surface: a single spf13/cobra
// root command carrying the flags of spec.md §6, plus a version
// subcommand.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/squaled/squaled/internal/config"
	"github.com/squaled/squaled/internal/logging"
	"github.com/squaled/squaled/internal/squaled"
)

// ExitError carries the process exit code spec.md §6 assigns to a
// failure: 255 for a startup failure (config load or listener bind),
// 1 for bad CLI arguments. A nil-Code ExitError is not expected; callers
// should always set Code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

func startupFailure(format string, args ...interface{}) error {
	return &ExitError{Code: 255, Err: fmt.Errorf(format, args...)}
}

// NewRootCommand builds the squaled root command.
func NewRootCommand() *cobra.Command {
	var (
		noDetach   bool
		configFile string
		logFile    string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "squaled",
		Short: "squaled is a connection-pooling daemon fronting relational databases",
		Long: `squaled accepts queries over a unix-domain socket, dispatches them
through named pools of backend-connected workers, and replies with a
length-prefixed resultset, affected-row count, or error.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), noDetach, configFile, logFile, logLevel)
		},
	}

	cmd.Flags().BoolVarP(&noDetach, "no-detach", "d", false, "keep foreground, log to stdout")
	cmd.Flags().StringVarP(&configFile, "config-file", "c", "", "alternate configuration file")
	cmd.Flags().StringVarP(&logFile, "log-file", "f", "", "override log destination")
	cmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "one of ERROR, CRITICAL, WARNING, MESSAGE, INFO, DEBUG")

	cmd.AddCommand(NewVersionCommand())

	return cmd
}

func runDaemon(ctx context.Context, noDetach bool, configFile, logFile, logLevel string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return startupFailure("loading configuration: %v", err)
	}

	if logFile != "" {
		cfg.Logging.File = logFile
	}
	if noDetach {
		cfg.Logging.File = ""
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	cm := config.NewConfigManager("", configFile, noDetach)
	if err := cm.SetupEnvironment(cfg); err != nil {
		return startupFailure("preparing environment: %v", err)
	}

	logMgr := logging.NewManager(&cfg.Logging, cm.GetDirectoryManager(), noDetach)
	if err := logMgr.Initialize(); err != nil {
		return startupFailure("initializing logging: %v", err)
	}
	defer logMgr.Close()

	logMgr.LogStartup("0.1.0", cfg.Server.SocketPath)
	defer logMgr.LogShutdown()

	srv, err := squaled.New(cfg, logMgr)
	if err != nil {
		return startupFailure("building pool topology: %v", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				_ = logMgr.Reopen()
			default:
				cancel()
				return
			}
		}
	}()
	defer signal.Stop(sigCh)

	if err := srv.Run(ctx); err != nil {
		return startupFailure("%w", err)
	}
	return nil
}

func loadConfig(configFile string) (*config.Config, error) {
	if configFile != "" {
		return config.LoadFromFile(configFile)
	}
	return config.Load()
}
