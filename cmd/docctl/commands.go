package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"document-backend/internal/analysis"
	"document-backend/internal/bootstrap"
	"document-backend/internal/documents"
	"document-backend/internal/extract"
)

type appLoader func(ctx context.Context) (*bootstrap.App, error)

func newRootCmd(load appLoader) *cobra.Command {
	root := &cobra.Command{
		Use:           "docctl",
		Short:         "Inspect and repair documents and their analyses",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newExtractCmd(),
		newAnalyzeCmd(load),
		newForgetUserCmd(load),
		newAttemptsCmd(load),
	)
	return root
}

func newExtractCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Print the text the analyzer would see for a local file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			text, err := extract.Text(data, filepath.Base(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), extract.Truncate(text, limit))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", analysis.DefaultPromptCharBudget, "maximum characters to print (0 for all)")
	return cmd
}

func newAnalyzeCmd(load appLoader) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "analyze <document-id>",
		Short: "Run one analysis attempt inline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := load(ctx)
			if err != nil {
				return err
			}
			defer shutdown(app)

			if !documents.ValidID(args[0]) {
				return fmt.Errorf("%s: %w", args[0], documents.ErrNotFound)
			}
			run := app.Orchestrator.Analyze
			if force {
				run = app.Orchestrator.Supersede
			}
			if err := run(ctx, args[0]); err != nil {
				if errors.Is(err, analysis.ErrInFlight) {
					return fmt.Errorf("analysis of %s is already running (use --force to take over)", args[0])
				}
				return err
			}

			doc, err := app.DocumentsRepo.GetByID(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\t%s\n", doc.ID, doc.Status)
			if doc.Analysis != nil {
				fmt.Fprintln(out, doc.Analysis.Summary)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "take over a document stuck in PROCESSING")
	return cmd
}

func newForgetUserCmd(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "forget-user <owner-id>",
		Short: "Detach every document from an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := load(ctx)
			if err != nil {
				return err
			}
			defer shutdown(app)

			n, err := app.DocumentsService.ForgetOwner(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared owner on %d documents\n", n)
			return nil
		},
	}
}

func newAttemptsCmd(load appLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "attempts <document-id>",
		Short: "List the analysis attempts of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := load(ctx)
			if err != nil {
				return err
			}
			defer shutdown(app)

			if !documents.ValidID(args[0]) {
				return fmt.Errorf("%s: %w", args[0], documents.ErrNotFound)
			}
			if _, err := app.DocumentsRepo.GetByID(ctx, args[0]); err != nil {
				return err
			}
			attempts, err := app.DocumentsRepo.ListAttempts(ctx, args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "GENERATION\tOUTCOME\tFINISHED\tREASON")
			for _, a := range attempts {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", a.Generation, a.Outcome, a.FinishedAt.UTC().Format(time.RFC3339), a.Reason)
			}
			return w.Flush()
		},
	}
}

func shutdown(app *bootstrap.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
}
