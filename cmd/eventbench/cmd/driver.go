package cmd

import (
	"github.com/spf13/cobra"

	"github.com/G-Research/eventbench/internal/bench"
	"github.com/G-Research/eventbench/internal/bench/configuration"
	"github.com/G-Research/eventbench/internal/common"
	"github.com/G-Research/eventbench/internal/common/app"
	commonconfig "github.com/G-Research/eventbench/internal/common/config"
)

func driverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "driver",
		Short: "Run a driver that takes part in a benchmark run",
		Long: `Run a driver that takes part in a benchmark run.

Every driver started with the same run id and shared backends processes events from the
same queue. The driver exits once the run is stopped or completed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadDriverConfig(cmd)
			if err != nil {
				return err
			}
			return bench.Serve(app.CreateContextWithShutdown(), config)
		},
	}
	cmd.Flags().String(CustomConfigLocation, "", "Fully qualified path to application configuration file")
	cmd.Flags().String("definition", "", "Benchmark definition file, overriding the configured one")
	cmd.Flags().String("runId", "", "Run to take part in, overriding the configured one")
	cmd.Flags().String("driverId", "", "Id of this driver; random if not set")
	cmd.Flags().Bool("schedule", false, "Schedule the run after the configured start delay")
	return cmd
}

func loadDriverConfig(cmd *cobra.Command) (configuration.DriverConfig, error) {
	var config configuration.DriverConfig
	userSpecifiedConfig, err := cmd.Flags().GetString(CustomConfigLocation)
	if err != nil {
		return config, err
	}
	common.LoadConfig(&config, "./config/eventbench", userSpecifiedConfig, cmd.Flags())
	common.SetLogLevel(config.LogLevel)

	if err := commonconfig.Validate(config); err != nil {
		commonconfig.LogValidationErrors(err)
		return config, err
	}
	return config, nil
}
