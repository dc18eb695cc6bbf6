package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/repository"
)

func newArtifactsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifacts",
		Short: "Manage model artifacts in the configured store",
	}
	cmd.AddCommand(newArtifactsPushCmd(c), newArtifactsListCmd(c))
	return cmd
}

func newArtifactsPushCmd(c *cli) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "push FILE",
		Short: "Upload a model or encoder file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if name == "" {
				name = filepath.Base(args[0])
			}

			store, err := repository.New(cmd.Context(), c.cfg.Repository)
			if err != nil {
				return err
			}
			defer store.Close()

			art, err := store.Put(cmd.Context(), name, data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pushed %s (%s, %s)\n", art.Name, humanize.Bytes(uint64(art.Size)), art.Checksum)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "artifact name (default: file name)")
	return cmd
}

func newArtifactsListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored artifacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := repository.New(cmd.Context(), c.cfg.Repository)
			if err != nil {
				return err
			}
			defer store.Close()

			arts, err := store.List(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSIZE\tCHECKSUM\tUPDATED")
			for _, a := range arts {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.Name, humanize.Bytes(uint64(a.Size)), a.Checksum, humanize.Time(a.UpdatedAt))
			}
			return tw.Flush()
		},
	}
}
