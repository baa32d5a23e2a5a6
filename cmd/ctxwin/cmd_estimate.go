package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	ctxwin "github.com/easyops/ctxwindow-go/pkg/context"
	"github.com/easyops/ctxwindow-go/pkg/signals"
	"github.com/easyops/ctxwindow-go/pkg/tokens"
)

func newEstimateCmd(a *app) *cobra.Command {
	var exact bool

	cmd := &cobra.Command{
		Use:   "estimate <file>...",
		Short: "Estimate the token cost of files at full and headers-only level",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctxwin.FromWindowConfig(a.cfg.Window)
			estimator := tokens.NewEstimator(tokens.WithModel(cfg.Model))

			var counter tokens.Counter
			if exact {
				c, err := tokens.NewTiktokenCounter(cfg.Model)
				if err != nil {
					return err
				}
				counter = c
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			header := "FILE\tFULL\tHEADERS\tEXTRACTOR"
			if exact {
				header += "\tTIKTOKEN"
			}
			fmt.Fprintln(w, header)

			total := 0
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				content := string(data)
				ext := signals.ForPath(path)
				full := estimator.Text(content)
				headers := estimator.Text(strings.Join(ext.Headers(content), "\n"))
				total += full

				line := fmt.Sprintf("%s\t%d\t%d\t%s", path, full, headers, ext.Name())
				if exact {
					line += fmt.Sprintf("\t%d", counter.Count(content))
				}
				fmt.Fprintln(w, line)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			budget := cfg.Budget()
			t := tokens.CheckThresholds(total, budget)
			fmt.Printf("\ntotal %d tokens, %.1f%% of the %d token budget", total, t.PercentUsed*100, budget)
			if t.Error {
				fmt.Print(" (over 90%)")
			} else if t.Warning {
				fmt.Print(" (over 70%)")
			}
			fmt.Println()
			return nil
		},
	}
	cmd.Flags().BoolVar(&exact, "exact", false, "also count tokens with tiktoken")
	return cmd
}
