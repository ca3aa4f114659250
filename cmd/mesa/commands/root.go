package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	jsonOutput bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mesa",
		Short: "OpenMesa - Cloud Deployment Orchestration Engine",
		Long: `OpenMesa provisions, scales, reconfigures, and tears down cloud
infrastructure on behalf of deployment records, driving each one through
its lifecycle state machine.

Features:
  - Network, subnet, and VM provisioning on OpenStack
  - Concurrent per-resource fan-out with best-effort rollback
  - Horizontal scaling with bound validation
  - Flavor and network updates on running deployments
  - Ansible-based configuration of provisioned hosts`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newDeleteCommand())
	rootCmd.AddCommand(newUpdateCommand())
	rootCmd.AddCommand(newScaleCommand())
	rootCmd.AddCommand(newConfigureCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newListCommand())
	rootCmd.AddCommand(newMigrateCommand())

	return rootCmd
}
