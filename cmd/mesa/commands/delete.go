package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openmesa/openmesa/pkg/orchestrator"
	"github.com/openmesa/openmesa/pkg/stores"
)

func newDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <deployment-id>",
		Short: "Tear down a deployment's infrastructure",
		Long: `Run the delete workflow against a deployment: remove its servers
concurrently, then its network, and mark the record DELETED. A
deployment with no recorded resources transitions straight to DELETED.`,
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
			result := rt.engine.RunDeleteWorkflow(ctx, orchestrator.DeleteInput{
				DeploymentID: d.ID,
				CloudRegion:  d.CloudRegion,
				Resources:    res,
			})

			if jsonOutput {
				if err := emitJSON(result); err != nil {
					return err
				}
			} else if result.Success {
				fmt.Printf("Deleted deployment %s (%d servers removed)\n",
					result.DeploymentID, len(result.DeletedServerIDs))
			}
			if !result.Success {
				return fmt.Errorf("delete failed: %s", result.Error)
			}
			return nil
		},
	}
	return cmd
}
