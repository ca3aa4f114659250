package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openmesa/openmesa/pkg/stores"
)

func newListCommand() *cobra.Command {
	var (
		status string
		region string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deployments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			filter := stores.ListFilter{
				CloudRegion: region,
				Limit:       limit,
				Offset:      offset,
			}
			if status != "" {
				s := stores.DeploymentStatus(status)
				if err := s.Validate(); err != nil {
					return err
				}
				filter.Status = &s
			}

			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			deployments, err := store.ListDeployments(ctx, filter)
			if err != nil {
				return err
			}

			if jsonOutput {
				return emitJSON(deployments)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATUS\tREGION\tVMS\tUPDATED")
			for _, d := range deployments {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					d.ID, d.Name, d.Status, d.CloudRegion,
					d.CurrentVMCount(), d.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (e.g. COMPLETED)")
	cmd.Flags().StringVar(&region, "region", "", "filter by cloud region")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of results (0 = all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of results to skip")

	return cmd
}
