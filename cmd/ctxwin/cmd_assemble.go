package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	ctxwin "github.com/easyops/ctxwindow-go/pkg/context"
	"github.com/easyops/ctxwindow-go/pkg/core/message"
	"github.com/easyops/ctxwindow-go/pkg/refs"
	"github.com/easyops/ctxwindow-go/pkg/workspace"
)

func newAssembleCmd(a *app) *cobra.Command {
	var (
		pins    []string
		intent  string
		session string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "assemble <message>",
		Short: "Assemble the context for one user turn and print it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			mgr, err := a.newManager()
			if err != nil {
				return err
			}
			if session != "" {
				store, err := a.openSnapshots()
				if err != nil {
					return err
				}
				state, _, err := store.Latest(ctx, session)
				store.Close()
				if err != nil {
					return err
				}
				if err := mgr.ImportState(state); err != nil {
					return err
				}
			}

			loader, err := workspace.NewLoader(a.cfg.Workspace, workspace.WithLogger(a.logger))
			if err != nil {
				return err
			}
			if _, err := loader.Load(ctx, mgr); err != nil {
				return err
			}

			opts := ctxwin.AssembleOptions{Intent: intent}
			for _, p := range pins {
				ref := refs.Ref(p)
				if !ref.Valid() {
					ref = refs.File(strings.TrimPrefix(p, "@"))
				}
				opts.Pins = append(opts.Pins, ref)
			}

			res, err := mgr.AssembleContext(ctx, message.NewUserMessage(strings.Join(args, " ")), opts)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printAssembly(res)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&pins, "pin", nil, "references to load in full (file paths or refs such as task:t1)")
	cmd.Flags().StringVar(&intent, "intent", "", "intent passed to relevance scoring")
	cmd.Flags().StringVar(&session, "session", "", "restore the latest snapshot of this session first")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full result as JSON")
	return cmd
}

func printAssembly(res ctxwin.Result) {
	fmt.Printf("tokens: %d / %d", res.TotalTokens, res.Budget)
	if res.BudgetExceeded {
		fmt.Print(" (over budget)")
	}
	fmt.Println()
	fmt.Printf("candidates: %v\n", res.Candidates)
	if len(res.Degraded) > 0 {
		fmt.Printf("degraded: %v\n", res.Degraded)
	}
	if len(res.Evicted) > 0 {
		fmt.Printf("evicted: %v\n", res.Evicted)
	}
	fmt.Println()
	for i, e := range res.Entries {
		label := string(e.Role)
		if e.SourceRef != "" {
			label = fmt.Sprintf("%s %s [%s]", label, e.SourceRef, e.Level)
		}
		fmt.Printf("--- %d: %s (%d tokens)\n%s\n", i, label, e.Tokens, e.Content)
	}
}
