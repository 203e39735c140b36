package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/efebarandurmaz/repolens/internal/domain"
	"github.com/efebarandurmaz/repolens/internal/llm"
	"github.com/efebarandurmaz/repolens/internal/llmutil"
	"github.com/efebarandurmaz/repolens/internal/rag"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		opts       appOptions
		jsonOutput bool
	)

	rootCmd := &cobra.Command{
		Use:          "repolens",
		Short:        "Ask questions about a GitHub repository",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&opts.localRoot, "local", "", "Read repositories from <root>/<owner>/<name> instead of GitHub")
	rootCmd.PersistentFlags().IntVar(&opts.topK, "top-k", 0, "Chunks retrieved per modality (default from config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze <owner/repo>",
		Short: "Index a repository and print the index report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), cmd.OutOrStdout(), opts, args[0], jsonOutput)
		},
	}

	askCmd := &cobra.Command{
		Use:   "ask <owner/repo> <question>",
		Short: "Index a repository and answer one question about it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), cmd.OutOrStdout(), opts, args[0], args[1], jsonOutput)
		},
	}

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List available LLM and embedding providers",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printProviders(cmd.OutOrStdout())
		},
	}

	rootCmd.AddCommand(serveCmd, analyzeCmd, askCmd, providersCmd)
	return rootCmd
}

// signalContext cancels on SIGINT or SIGTERM. serve handles signals itself.
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func runServe(ctx context.Context, opts appOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	gs, srv := a.newGracefulServer()
	a.log.Info("repolens ready",
		zap.String("addr", srv.Addr),
		zap.String("llm", a.completerName()),
		zap.String("vector_backend", a.cfg.Vector.Backend),
	)
	return gs.Run(srv)
}

func runAnalyze(ctx context.Context, w io.Writer, opts appOptions, repoArg string, jsonOutput bool) error {
	repo, err := domain.ParseRepoID(repoArg)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(ctx)
	defer cancel()

	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	report, err := a.svc.Analyze(ctx, repo)
	if report != nil {
		if jsonOutput {
			data, jerr := report.JSON()
			if jerr != nil {
				return jerr
			}
			fmt.Fprintln(w, string(data))
		} else {
			report.PrintSummary(w)
		}
	}
	return err
}

func runAsk(ctx context.Context, w io.Writer, opts appOptions, repoArg, question string, jsonOutput bool) error {
	repo, err := domain.ParseRepoID(repoArg)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(ctx)
	defer cancel()

	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	ans, err := a.svc.AnalyzeAndQuery(ctx, repo, question)
	if err != nil {
		return err
	}
	return printAnswer(w, ans, jsonOutput)
}

func printAnswer(w io.Writer, ans *rag.Answer, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(ans)
	}
	fmt.Fprintln(w, ans.Answer)
	if len(ans.Sources) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Sources:")
	for _, s := range ans.Sources {
		fmt.Fprintf(w, "  %-6s %.3f  %s\n", s.ContentType, s.Score, s.FileName)
	}
	return nil
}

func printProviders(w io.Writer) {
	fmt.Fprintln(w, "Completion and embedding providers:")
	fmt.Fprintln(w)
	for _, name := range llmutil.NewFactory().Names() {
		url := llm.KnownProviders[name]
		switch {
		case name == "custom":
			url = "(set base_url to any OpenAI-compatible endpoint)"
		case url == "":
			url = "(default endpoint)"
		}
		fmt.Fprintf(w, "  %-14s %s\n", name, url)
	}
	fmt.Fprintln(w, "  none           (completion disabled; questions fail)")
	fmt.Fprintln(w, "  hash           (embedding only; local, deterministic)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configure in repolens.yaml or via environment:")
	fmt.Fprintln(w, "  REPOLENS_LLM_PROVIDER=groq")
	fmt.Fprintln(w, "  REPOLENS_LLM_API_KEY=gsk_...")
	fmt.Fprintln(w, "  REPOLENS_EMBEDDING_CODE_PROVIDER=openai")
}
