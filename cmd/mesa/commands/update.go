package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openmesa/openmesa/pkg/orchestrator"
	"github.com/openmesa/openmesa/pkg/stores"
)

func newUpdateCommand() *cobra.Command {
	var (
		flavor string
		cidr   string
	)

	cmd := &cobra.Command{
		Use:   "update <deployment-id>",
		Short: "Apply a flavor or network change to a deployment",
		Long: `Run the update workflow: resize every server to a new flavor,
replace the subnet with a new CIDR, or both. Passing neither flag
re-confirms the deployment as COMPLETED without touching the cloud.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseDeploymentID(args[0])
			if err != nil {
				return err
			}

			rt, err := buildRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			d, err := rt.store.GetDeployment(ctx, id)
			if err != nil {
				return err
			}

			var res stores.Resources
			if d.Resources != nil {
				res = *d.Resources
			}
			result := rt.engine.RunUpdateWorkflow(ctx, orchestrator.UpdateInput{
				DeploymentID: d.ID,
				CloudRegion:  d.CloudRegion,
				Resources:    res,
				Parameters: stores.Parameters{
					Flavor:      flavor,
					NetworkCIDR: cidr,
				},
			})

			if jsonOutput {
				if err := emitJSON(result); err != nil {
					return err
				}
			} else if result.Success {
				fmt.Printf("Updated deployment %s\n", result.DeploymentID)
				if len(result.ResizedServerIDs) > 0 {
					fmt.Printf("  Resized %d servers to %s\n", len(result.ResizedServerIDs), flavor)
				}
				if result.Resources != nil && cidr != "" {
					fmt.Printf("  Subnet:  %s\n", result.Resources.SubnetID)
				}
			}
			if !result.Success {
				return fmt.Errorf("update failed: %s", result.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flavor, "flavor", "", "new compute flavor for all servers")
	cmd.Flags().StringVar(&cidr, "cidr", "", "new subnet CIDR block")

	return cmd
}
