package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chromefleet/chromefleet/cmd/core"
	cmdservers "github.com/chromefleet/chromefleet/cmd/servers"
	cmdvm "github.com/chromefleet/chromefleet/cmd/vm"
	"github.com/chromefleet/chromefleet/config"
)

var (
	cfgFile string
	conf    *config.Config
)

var rootCmd = func() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chromefleet",
		Short: "chromefleet - Chrome VM orchestrator",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(core.CommandContext(cmd))
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.PersistentFlags().String("run-dir", "", "runtime directory")
	cmd.PersistentFlags().Int("port-base", 0, "base of the display port range")
	cmd.PersistentFlags().String("docker-socket", "", "container runtime socket")

	_ = viper.BindPFlag("run_dir", cmd.PersistentFlags().Lookup("run-dir"))
	_ = viper.BindPFlag("port_base", cmd.PersistentFlags().Lookup("port-base"))
	_ = viper.BindPFlag("docker_socket", cmd.PersistentFlags().Lookup("docker-socket"))

	viper.SetEnvPrefix("CHROMEFLEET")
	viper.AutomaticEnv()

	confProvider := func() *config.Config { return conf }

	cmd.AddCommand(cmdvm.Command(cmdvm.Handler{BaseHandler: core.BaseHandler{ConfProvider: confProvider}}))
	cmd.AddCommand(cmdservers.Command(cmdservers.Handler{BaseHandler: core.BaseHandler{ConfProvider: confProvider}}))

	return cmd
}()

func initConfig(ctx context.Context) error {
	conf = config.DefaultConfig()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	_ = viper.ReadInConfig() // optional; missing file is OK

	if err := viper.Unmarshal(conf); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if err := conf.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	return log.SetupLog(ctx, &conf.Log, "")
}

// Execute is the main entry point called from main.go.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return rootCmd.ExecuteContext(ctx)
}
