package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <deployment-id>",
		Short: "Show a deployment's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseDeploymentID(args[0])
			if err != nil {
				return err
			}

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			d, err := store.GetDeployment(ctx, id)
			if err != nil {
				return err
			}

			if jsonOutput {
				return emitJSON(d)
			}

			fmt.Printf("Deployment: %s (%s)\n", d.Name, d.ID)
			fmt.Printf("  Status:  %s\n", d.Status)
			fmt.Printf("  Region:  %s\n", d.CloudRegion)
			fmt.Printf("  Created: %s\n", d.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("  Updated: %s\n", d.UpdatedAt.Format("2006-01-02 15:04:05"))
			if d.Resources != nil {
				fmt.Printf("  Network: %s\n", d.Resources.NetworkID)
				fmt.Printf("  Subnet:  %s\n", d.Resources.SubnetID)
				fmt.Printf("  Servers: %d\n", d.Resources.VMCount())
				for _, sid := range d.Resources.ServerIDs {
					fmt.Printf("    %s\n", sid)
				}
			}
			if d.Error != nil {
				fmt.Printf("  Error:   %s\n", d.Error.Message)
				if d.Error.Type != "" {
					fmt.Printf("    Type:      %s\n", d.Error.Type)
				}
				if d.Error.Phase != "" {
					fmt.Printf("    Phase:     %s\n", d.Error.Phase)
				}
				if d.Error.Operation != "" {
					fmt.Printf("    Operation: %s\n", d.Error.Operation)
				}
			}
			if d.ExtraMetadata != nil && d.ExtraMetadata.LastExecutionID != "" {
				fmt.Printf("  Last playbook execution: %s\n", d.ExtraMetadata.LastExecutionID)
			}
			return nil
		},
	}
	return cmd
}
