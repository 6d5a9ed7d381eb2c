package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bmr-systems/bmr-admin/internal/apierr"
	"github.com/bmr-systems/bmr-admin/internal/config"
	"github.com/bmr-systems/bmr-admin/pkg/output"
)

var (
	cfgFile string
	cfg     *config.Config
)

// errShown marks a failure the command already reported to the user.
var errShown = errors.New("command failed")

var rootCmd = &cobra.Command{
	Use:   "bmrctl",
	Short: "BMR back-office console",
	Long: `bmrctl is the command-line console for the BMR back office.

Log in, browse and edit events, posts, donations, roles and users,
run the membership workflow and start a local mock API for development.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, errShown) {
		output.Error("%s", describe(err))
	}
	return err
}

func describe(err error) string {
	if _, ok := apierr.As(err); ok {
		return apierr.UserMessage(err)
	}
	return err.Error()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.bmr/config.yaml)")
	rootCmd.PersistentFlags().String("profile", "default", "profile to use")
	rootCmd.PersistentFlags().String("output", "table", "output format: table, json, yaml")
	rootCmd.PersistentFlags().String("base-url", "", "API root, overrides the profile")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
		cfg = config.Default()
	}
}

func outputFormat(cmd *cobra.Command) (output.Format, error) {
	f, _ := cmd.Flags().GetString("output")
	return output.ParseFormat(f)
}
