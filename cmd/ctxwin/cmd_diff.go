package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/easyops/ctxwindow-go/pkg/diff"
	"github.com/easyops/ctxwindow-go/pkg/editstrategy"
	"github.com/easyops/ctxwindow-go/pkg/store"
)

func newDiffCmd() *cobra.Command {
	var (
		path   string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "diff <old-file> <new-file>",
		Short: "Diff two versions of a file and show the edit strategy the window would choose",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oldContent, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			newContent, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			if path == "" {
				path = args[1]
			}

			s := store.New()
			s.SetFile(path, string(oldContent), nil)
			upd := s.SetFile(path, string(newContent), nil)
			if !upd.Changed || !upd.Record.HasHistory() {
				fmt.Println("no changes")
				return nil
			}

			d := *upd.Record.Diff
			decision := editstrategy.NewSelector(
				editstrategy.WithExtractor(s.Extractor),
			).Select(d, *upd.Previous, upd.Record)

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Diff     diff.Result           `json:"diff"`
					Decision editstrategy.Decision `json:"decision"`
				}{d, decision})
			}

			unified, err := d.Unified(path)
			if err != nil {
				return err
			}
			fmt.Print(unified)
			fmt.Printf("\nstrategy: %s (ttl %s)\nreason:   %s\n", decision.Strategy, decision.TTL, decision.Reason)
			fmt.Printf("change:   %.1f%% of lines, %d changes, structural=%v\n",
				decision.Magnitude.ChangePercentage*100, decision.Magnitude.ChangeCount, decision.Magnitude.IsStructural)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "path used in diff headers and for language detection (default: new file)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the diff result and decision as JSON")
	return cmd
}
