package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openmesa/openmesa/pkg/orchestrator"
	"github.com/openmesa/openmesa/pkg/stores"
)

func newScaleCommand() *cobra.Command {
	var target int

	cmd := &cobra.Command{
		Use:   "scale <deployment-id>",
		Short: "Scale a deployment to a target VM count",
		Long: `Run the scale workflow: create additional VMs up to the target
count, or remove the most recently created ones down to it. The target
is validated against the deployment's min/max bounds before any cloud
call is made.`,
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
			minCount := 0
			if d.Parameters.MinCount != nil {
				minCount = *d.Parameters.MinCount
			}
			result := rt.engine.RunScaleWorkflow(ctx, orchestrator.ScaleInput{
				DeploymentID: d.ID,
				CloudRegion:  d.CloudRegion,
				CurrentCount: d.CurrentVMCount(),
				TargetCount:  target,
				MinCount:     minCount,
				MaxCount:     d.Parameters.MaxCount,
				Resources:    res,
				Template:     d.Template,
			})

			if jsonOutput {
				if err := emitJSON(result); err != nil {
					return err
				}
			} else if result.Success {
				fmt.Printf("Scaled deployment %s: %d -> %d (%s)\n",
					result.DeploymentID, result.InitialCount, result.FinalCount, result.Operation)
				for _, sid := range result.NewServerIDs {
					fmt.Printf("  Added:   %s\n", sid)
				}
				for _, sid := range result.RemovedServerIDs {
					fmt.Printf("  Removed: %s\n", sid)
				}
			}
			if !result.Success {
				return fmt.Errorf("scale failed: %s", result.Error)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&target, "count", 0, "target number of VMs")
	_ = cmd.MarkFlagRequired("count")

	return cmd
}
