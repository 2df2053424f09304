package main

import (
	"fmt"
	"io"

	"github.com/nadmax/searcheval/internal/judgment"
	"github.com/nadmax/searcheval/internal/launcher"
	"github.com/spf13/cobra"
)

type jobOptions struct {
	noWait bool
}

func (a *app) newGenerateQueriesCmd() *cobra.Command {
	var (
		opts          jobOptions
		count         int
		category      string
		minCandidates int
		maxCandidates int
	)

	cmd := &cobra.Command{
		Use:   "generate-queries",
		Short: "Generate evaluation queries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			params := launcher.QueryGenerationParams{Count: count, Category: category}
			if cmd.Flags().Changed("min-candidates") {
				params.MinCandidates = &minCandidates
			}
			if cmd.Flags().Changed("max-candidates") {
				params.MaxCandidates = &maxCandidates
			}

			return a.runJob(cmd, opts, func(l *launcher.Launcher) (*launcher.Job, error) {
				return l.GenerateQueries(cmd.Context(), params)
			})
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 10, "Number of queries to generate")
	cmd.Flags().StringVar(&category, "category", "", "Restrict generated queries to a product category")
	cmd.Flags().IntVar(&minCandidates, "min-candidates", 0, "Minimum candidates per query")
	cmd.Flags().IntVar(&maxCandidates, "max-candidates", 0, "Maximum candidates per query")
	cmd.Flags().BoolVar(&opts.noWait, "no-wait", false, "Return once the job is accepted")
	return cmd
}

func (a *app) newGenerateCandidatesCmd() *cobra.Command {
	var (
		opts     jobOptions
		queryIDs []int64
	)

	cmd := &cobra.Command{
		Use:   "generate-candidates",
		Short: "Generate judgment candidates for the selected queries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runJob(cmd, opts, func(l *launcher.Launcher) (*launcher.Job, error) {
				return l.GenerateCandidates(cmd.Context(), queryIDs)
			})
		},
	}

	cmd.Flags().Int64SliceVarP(&queryIDs, "queries", "q", nil, "Query ids to work on (comma separated)")
	cmd.Flags().BoolVar(&opts.noWait, "no-wait", false, "Return once the job is accepted")
	return cmd
}

func (a *app) newEvaluateLLMCmd() *cobra.Command {
	var (
		opts     jobOptions
		queryIDs []int64
	)

	cmd := &cobra.Command{
		Use:   "evaluate-llm",
		Short: "Judge the candidates of the selected queries with the LLM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runJob(cmd, opts, func(l *launcher.Launcher) (*launcher.Job, error) {
				return l.EvaluateLLM(cmd.Context(), queryIDs)
			})
		},
	}

	cmd.Flags().Int64SliceVarP(&queryIDs, "queries", "q", nil, "Query ids to work on (comma separated)")
	cmd.Flags().BoolVar(&opts.noWait, "no-wait", false, "Return once the job is accepted")
	return cmd
}

// runJob launches a job and, unless --no-wait is set, follows it to the end. A failed,
// timed out or interrupted job makes the command fail.
func (a *app) runJob(cmd *cobra.Command, opts jobOptions, launch func(l *launcher.Launcher) (*launcher.Job, error)) error {
	l := a.newLauncher(cmd)
	defer l.Close()

	job, err := launch(l)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Started %s task %d", job.Kind, job.TaskID)
	if job.Message != "" {
		fmt.Fprintf(out, ": %s", job.Message)
	}
	fmt.Fprintln(out)

	if opts.noWait {
		return nil
	}

	outcome, err := job.Wait(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s task %d completed\n", outcome.Kind, outcome.TaskID)
	if len(outcome.Queries) == 0 {
		return nil
	}
	return a.render(cmd, outcome.Queries, func(w io.Writer) {
		writeQueries(w, outcome.Queries)
	})
}

func (a *app) newEvaluateCmd() *cobra.Command {
	var (
		name          string
		retrievalSize int
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run a full evaluation and create a report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			params := launcher.EvaluationRunParams{ReportName: name}
			if cmd.Flags().Changed("retrieval-size") {
				params.RetrievalSize = &retrievalSize
			}

			l := a.newLauncher(cmd)
			defer l.Close()

			resp, err := l.RunEvaluation(cmd.Context(), params)
			if err != nil {
				return err
			}

			return a.render(cmd, resp, func(w io.Writer) {
				fmt.Fprintf(w, "Report\t%d\n", resp.ReportID)
				fmt.Fprintf(w, "Queries\t%d\n", resp.TotalQueries)
				fmt.Fprintf(w, "Precision\t%.3f\n", resp.AveragePrecision)
				fmt.Fprintf(w, "Recall\t%.3f\n", resp.AverageRecall)
				fmt.Fprintf(w, "F1\t%.3f\n", resp.AverageF1Score)
				fmt.Fprintf(w, "nDCG@20\t%s\n", formatFloat(resp.AverageNDCG20))
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Report name (required)")
	cmd.Flags().IntVar(&retrievalSize, "retrieval-size", 0, "Documents retrieved per query")
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(fmt.Sprintf("failed to mark name flag as required: %v", err))
	}
	return cmd
}

func writeQueries(w io.Writer, queries []judgment.Query) {
	fmt.Fprintln(w, "ID\tQUERY\tDOCUMENTS\tCORRECT\tINCORRECT\tUNEVALUATED")
	for _, q := range queries {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%d\n",
			q.ID, q.Text, q.DocumentCount, q.CorrectCount, q.IncorrectCount, q.UnevaluatedCount)
	}
}
