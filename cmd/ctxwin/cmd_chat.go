package main

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/easyops/ctxwindow-go/pkg/agents"
	ctxwin "github.com/easyops/ctxwindow-go/pkg/context"
	"github.com/easyops/ctxwindow-go/pkg/core/errors"
	"github.com/easyops/ctxwindow-go/pkg/core/llm"
	"github.com/easyops/ctxwindow-go/pkg/otel"
	"github.com/easyops/ctxwindow-go/pkg/tools"
	"github.com/easyops/ctxwindow-go/pkg/tools/builtin"
	"github.com/easyops/ctxwindow-go/pkg/workspace"
)

func newChatCmd(a *app) *cobra.Command {
	var (
		session  string
		allowed  []string
		showPlan bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the model; @path references load workspace files into context",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			mgr, err := a.newManager()
			if err != nil {
				return err
			}
			loader, err := workspace.NewLoader(a.cfg.Workspace, workspace.WithLogger(a.logger))
			if err != nil {
				return err
			}
			if _, err := loader.Load(ctx, mgr); err != nil {
				return err
			}

			base, err := llm.FromConfig(a.cfg.LLM)
			if err != nil {
				return err
			}
			provider := otel.NewTracedProvider(base,
				otel.WithTracedProviderTracer(a.provider.Tracer()),
				otel.WithTracedProviderMetrics(a.provider.Metrics()),
			)
			defer provider.Close()

			registry := tools.NewRegistry()
			termOpts := []builtin.TerminalOption{builtin.WithWorkDir(loader.Root())}
			if len(allowed) > 0 {
				termOpts = append(termOpts, builtin.WithAllowedCommands(allowed))
			}
			if err := builtin.Register(registry, mgr, termOpts...); err != nil {
				return err
			}
			executor := tools.Instrument(tools.NewExecutor(registry), a.provider.Tracer(), a.provider.Metrics())

			store, err := a.openSnapshots()
			if err != nil {
				return err
			}
			defer store.Close()

			opts := []agents.Option{
				agents.WithConfig(a.cfg.Agent),
				agents.WithTools(executor),
				agents.WithSnapshots(store),
				agents.WithAutoSnapshot(a.cfg.Agent.AutoSnapshot),
				agents.WithLogger(a.logger),
				agents.WithObservability(a.provider.Tracer(), a.provider.Metrics()),
			}
			if session != "" {
				opts = append(opts, agents.WithSessionID(session))
			}
			s, err := agents.NewSession(mgr, provider, opts...)
			if err != nil {
				return err
			}
			if session != "" {
				if meta, err := s.Resume(ctx); err == nil {
					fmt.Printf("Resumed snapshot %s\n", meta.ID)
				} else if !stderrors.Is(err, errors.ErrSnapshotNotFound) {
					return err
				}
			}

			fmt.Printf("Session %s (%s/%s). Type '/tools', '/status' or '/compact', 'quit' to exit.\n\n", s.ID(), provider.Name(), provider.Model())
			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Print("You: ")
				if !scanner.Scan() {
					return scanner.Err()
				}
				input := strings.TrimSpace(scanner.Text())
				switch strings.ToLower(input) {
				case "":
					continue
				case "quit", "exit":
					return nil
				case "/tools":
					fmt.Print(registry.Describe())
					continue
				case "/status":
					printConversationStatus(mgr.ConversationStatus())
					continue
				case "/compact":
					res, err := mgr.Compact(ctx, provider, ctxwin.CompactOptions{
						Force:        true,
						Instructions: a.cfg.Agent.CompactInstructions,
					})
					if err != nil {
						fmt.Printf("Error: %v\n\n", err)
					} else {
						printCompaction(res)
					}
					continue
				}

				out, err := s.Run(ctx, agents.Input{Query: input})
				if err != nil {
					fmt.Printf("Error: %v\n\n", err)
					if ctx.Err() != nil {
						return nil
					}
					continue
				}
				for _, step := range out.Steps {
					if step.Type != agents.StepTypeThought {
						fmt.Printf("  %s\n", step)
					}
				}
				if out.Compaction != nil {
					printCompaction(*out.Compaction)
				}
				fmt.Printf("Assistant: %s\n", out.Response)
				if showPlan {
					fmt.Printf("(context: %d/%d tokens, loaded=%v, evicted=%v)\n",
						out.Assembly.TotalTokens, out.Assembly.Budget, out.Assembly.Loaded, out.Assembly.Evicted)
				}
				fmt.Printf("(tokens: prompt=%d, completion=%d, duration=%v)\n\n",
					out.TokenUsage.PromptTokens, out.TokenUsage.CompletionTokens, out.Duration)
			}
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session id used for snapshots and resume")
	cmd.Flags().StringSliceVar(&allowed, "allow", nil, "commands the terminal tool may run (default: all but blocked)")
	cmd.Flags().BoolVar(&showPlan, "show-context", false, "print the context assembly summary after each turn")
	return cmd
}

func printCompaction(res ctxwin.CompactResult) {
	if !res.Compacted {
		fmt.Printf("(not compacted: %s)\n\n", res.Reason)
		return
	}
	fmt.Printf("(compacted %d -> %d turns, %d -> %d tokens, restored=%v)\n",
		res.OriginalTurns, res.CompactedTurns, res.TokensBefore, res.TokensAfter, res.Restored)
	if len(res.NeedsReread) > 0 {
		fmt.Printf("(files to re-read: %s)\n", strings.Join(res.NeedsReread, ", "))
	}
	fmt.Println()
}

func printConversationStatus(st ctxwin.ConversationStatus) {
	fmt.Printf("Turns: %d, tokens: %d/%d (%.0f%%)\n",
		st.TurnCount, st.Thresholds.TokenCount, st.Thresholds.MaxTokens, st.Thresholds.PercentUsed*100)
	for _, w := range st.Warnings {
		fmt.Printf("  [%s] %s %s\n", w.Level, w.Message, w.Action)
	}
	for _, r := range st.Recommendations {
		fmt.Printf("  - %s\n", r)
	}
	fmt.Println()
}
