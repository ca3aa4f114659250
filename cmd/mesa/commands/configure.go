package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openmesa/openmesa/pkg/orchestrator"
	"github.com/openmesa/openmesa/pkg/stores"
)

func newConfigureCommand() *cobra.Command {
	var (
		playbook  string
		limit     string
		extraVars []string
	)

	cmd := &cobra.Command{
		Use:   "configure <deployment-id>",
		Short: "Run an Ansible playbook against a deployment's servers",
		Long: `Run the configure workflow: resolve the deployment's server
addresses, wait for SSH reachability, and execute the playbook against
them. The playbook outcome is recorded on the deployment record.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseDeploymentID(args[0])
			if err != nil {
				return err
			}

			vars, err := parseExtraVars(extraVars)
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
			result := rt.engine.RunConfigureWorkflow(ctx, orchestrator.ConfigureInput{
				DeploymentID: d.ID,
				PlaybookPath: playbook,
				ExtraVars:    vars,
				Limit:        limit,
				Resources:    res,
			})

			if jsonOutput {
				if err := emitJSON(result); err != nil {
					return err
				}
			} else if result.Success {
				fmt.Printf("Configured deployment %s (execution %s)\n",
					result.DeploymentID, result.ExecutionID)
				for _, host := range result.ConfiguredHosts {
					fmt.Printf("  Host: %s\n", host)
				}
			}
			if !result.Success {
				return fmt.Errorf("configure failed: %s", result.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&playbook, "playbook", "", "path to the playbook to run")
	cmd.Flags().StringVar(&limit, "limit", "", "restrict the run to matching hosts")
	cmd.Flags().StringArrayVar(&extraVars, "var", nil, "extra variable as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("playbook")

	return cmd
}

// parseExtraVars converts repeated key=value flags into a variable map.
func parseExtraVars(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid extra variable %q (expected key=value)", pair)
		}
		vars[key] = value
	}
	return vars, nil
}
