package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/longnt/sage/internal/config"
	"github.com/longnt/sage/internal/daemon"
	"github.com/longnt/sage/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sage daemon",
	Long: `Run the sage daemon in the foreground. The daemon serves the Slack
ingress, the maintenance endpoints, and the scheduled session sweep until
interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:   level,
		File:    cfg.Logging.File,
		Console: true,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()

	configPath := config.NewLoader(cfgFile).GetConfigPath()

	d, err := daemon.New(cfg, log, daemon.WithConfigPath(configPath))
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}

	d.Wait()
	return nil
}
