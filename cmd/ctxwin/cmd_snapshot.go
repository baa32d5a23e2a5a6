package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	ctxwin "github.com/easyops/ctxwindow-go/pkg/context"
)

func newSnapshotCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage session snapshots",
	}
	cmd.AddCommand(
		newSnapshotListCmd(a),
		newSnapshotExportCmd(a),
		newSnapshotImportCmd(a),
		newSnapshotDeleteCmd(a),
	)
	return cmd
}

func newSnapshotListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <session>",
		Short: "List snapshots of a session, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openSnapshots()
			if err != nil {
				return err
			}
			defer store.Close()

			metas, err := store.List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tSIZE\tRAW\tCOMPRESSED\tCHECKSUM")
			for _, m := range metas {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%v\t%.12s\n",
					m.ID, m.CreatedAt.Format("2006-01-02 15:04:05"), m.Size, m.RawSize, m.Compressed, m.Checksum)
			}
			return w.Flush()
		},
	}
}

func newSnapshotExportCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <snapshot-id>",
		Short: "Write a snapshot's state as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openSnapshots()
			if err != nil {
				return err
			}
			defer store.Close()

			state, _, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(state, "", "  ")
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = os.Stdout.Write(append(data, '\n'))
				return err
			}
			return os.WriteFile(output, data, 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file")
	return cmd
}

func newSnapshotImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <session> <file>",
		Short: "Validate a JSON state file and store it as a new snapshot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			var state ctxwin.State
			if err := json.Unmarshal(data, &state); err != nil {
				return fmt.Errorf("parse %s: %w", args[1], err)
			}
			if err := state.Validate(); err != nil {
				return err
			}

			store, err := a.openSnapshots()
			if err != nil {
				return err
			}
			defer store.Close()

			meta, err := store.Save(cmd.Context(), args[0], state)
			if err != nil {
				return err
			}
			fmt.Printf("saved %s (%d bytes)\n", meta.ID, meta.Size)
			return nil
		},
	}
}

func newSnapshotDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <snapshot-id>...",
		Short: "Delete snapshots",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openSnapshots()
			if err != nil {
				return err
			}
			defer store.Close()

			for _, id := range args {
				if err := store.Delete(cmd.Context(), id); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
