package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/RenatoCabral2022/segment-recorder/internal/app"
	"github.com/RenatoCabral2022/segment-recorder/internal/config"
)

// Dependencies are resolved once the persistent flags are parsed.
type Dependencies struct {
	ConfigPath string
	Config     *config.Config
	Logger     *zap.Logger
}

// Build wires the application. withEvents enables the NATS publisher.
func (d *Dependencies) Build(withEvents bool) (*app.App, error) {
	return app.New(d.Config, d.Logger, withEvents)
}

func defaultConfigPath() string {
	if p := os.Getenv("RECORDER_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func NewRootCmd() *cobra.Command {
	deps := &Dependencies{}

	rootCmd := &cobra.Command{
		Use:           "recorder",
		Short:         "Segmented camera recorder",
		Long:          "Records IP camera streams into fixed-length segments with ffmpeg and serves time-window queries over them.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(deps.ConfigPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logger, err := app.NewLogger(cfg.Logging)
			if err != nil {
				return err
			}
			deps.Config = cfg
			deps.Logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if deps.Logger != nil {
				deps.Logger.Sync()
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&deps.ConfigPath, "config", "c", defaultConfigPath(), "path to the YAML config file")

	rootCmd.AddCommand(NewServeCmd(deps))
	rootCmd.AddCommand(NewSegmentsCmd(deps))
	rootCmd.AddCommand(NewSweepCmd(deps))

	return rootCmd
}
