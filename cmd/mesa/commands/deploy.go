package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openmesa/openmesa/pkg/orchestrator"
	"github.com/openmesa/openmesa/pkg/stores"
)

func newDeployCommand() *cobra.Command {
	var (
		region string
		cidr   string
		flavor string
		image  string
		count  int
	)

	cmd := &cobra.Command{
		Use:   "deploy <name>",
		Short: "Create a deployment and provision its infrastructure",
		Long: `Create a new deployment record and run the provision workflow:
network, subnet, and the requested number of VMs, waiting until every
server reaches ACTIVE. On failure, resources created during the run are
rolled back best-effort and the record is marked FAILED.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := buildRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			d := &stores.Deployment{
				Name:        args[0],
				CloudRegion: region,
				Template: stores.Template{
					NetworkConfig: stores.NetworkConfig{CIDR: cidr},
					VMConfig:      stores.VMConfig{Flavor: flavor, Image: image, Count: count},
				},
			}
			if err := rt.store.CreateDeployment(ctx, d); err != nil {
				return fmt.Errorf("failed to create deployment record: %w", err)
			}
			if !jsonOutput {
				fmt.Printf("Created deployment %s\n", d.ID)
			}

			res := rt.engine.RunProvisionWorkflow(ctx, orchestrator.ProvisionInput{
				DeploymentID: d.ID,
				CloudRegion:  d.CloudRegion,
				Template:     d.Template,
				Parameters:   d.Parameters,
			})

			if jsonOutput {
				if err := emitJSON(res); err != nil {
					return err
				}
			} else if res.Success {
				fmt.Printf("Provisioned deployment %s\n", res.DeploymentID)
				fmt.Printf("  Network: %s\n", res.NetworkID)
				fmt.Printf("  Subnet:  %s\n", res.SubnetID)
				for _, id := range res.ServerIDs {
					fmt.Printf("  Server:  %s\n", id)
				}
			}
			if !res.Success {
				return fmt.Errorf("provision failed: %s", res.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&region, "region", "", "target cloud region")
	cmd.Flags().StringVar(&cidr, "cidr", "", "subnet CIDR block (e.g. 192.168.1.0/24)")
	cmd.Flags().StringVar(&flavor, "flavor", "", "compute flavor name or id")
	cmd.Flags().StringVar(&image, "image", "", "boot image name or id")
	cmd.Flags().IntVar(&count, "count", 1, "number of VMs to create")
	_ = cmd.MarkFlagRequired("region")
	_ = cmd.MarkFlagRequired("cidr")
	_ = cmd.MarkFlagRequired("flavor")
	_ = cmd.MarkFlagRequired("image")

	return cmd
}
