package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/nadmax/searcheval/internal/evaluation"
	"github.com/nadmax/searcheval/internal/judgment"
	"github.com/spf13/cobra"
)

func (a *app) newQueriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queries",
		Short: "Inspect evaluation queries",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List evaluation queries with their judgment counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			queries, err := a.client.ListQueries(cmd.Context())
			if err != nil {
				return err
			}
			return a.render(cmd, queries, func(w io.Writer) {
				writeQueries(w, queries)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "review <query-id>",
		Short: "List the candidates of a query that need human review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			candidates, err := judgment.NewStore(a.client, a.log).ReviewQueue(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.render(cmd, candidates, func(w io.Writer) {
				fmt.Fprintln(w, "ID\tPRODUCT\tCONFIDENCE\tREASON")
				for _, c := range candidates {
					fmt.Fprintf(w, "%d\t%s\t%.2f\t%s\n", c.ID, c.Document(), c.ConfidenceValue(), c.EvaluationReason)
				}
			})
		},
	})

	cmd.AddCommand(a.newQueriesScoreCmd())

	return cmd
}

// newQueriesScoreCmd scores a ranking against the current judgments of a query.
func (a *app) newQueriesScoreCmd() *cobra.Command {
	var retrieved []string

	cmd := &cobra.Command{
		Use:   "score <query-id>",
		Short: "Score a ranking of product ids against the query's judgments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			q, err := a.client.GetQuery(cmd.Context(), id)
			if err != nil {
				return err
			}
			candidates, err := judgment.NewStore(a.client, a.log).Candidates(cmd.Context(), id)
			if err != nil {
				return err
			}

			detail := evaluation.EvaluateQuery(evaluation.QueryInput{
				Query:     q.Text,
				Judgments: judgment.ToJudged(candidates),
				Retrieved: retrieved,
			})

			return a.render(cmd, detail, func(w io.Writer) {
				fmt.Fprintf(w, "Query\t%s\n", detail.Query)
				fmt.Fprintf(w, "Precision\t%.3f\n", detail.Precision)
				fmt.Fprintf(w, "Recall\t%.3f\n", detail.Recall)
				fmt.Fprintf(w, "F1\t%.3f\n", detail.F1Score)
				fmt.Fprintf(w, "nDCG@20\t%s\n", formatFloat(detail.NDCG20))
				fmt.Fprintf(w, "Correct\t%d of %d retrieved, %d relevant\n",
					detail.CorrectCount, detail.RetrievedCount, detail.RelevantCount)
				fmt.Fprintf(w, "Missing\t%s\n", joinRefs(detail.MissingDocuments))
				fmt.Fprintf(w, "Wrong\t%s\n", joinRefs(detail.WrongDocuments))
			})
		},
	}

	cmd.Flags().StringSliceVarP(&retrieved, "retrieved", "r", nil, "Ranked product ids returned by the search (comma separated)")
	if err := cmd.MarkFlagRequired("retrieved"); err != nil {
		panic(fmt.Sprintf("failed to mark retrieved flag as required: %v", err))
	}
	return cmd
}

func (a *app) newJudgeCmd() *cobra.Command {
	var (
		score      int
		reason     string
		confidence float64
	)

	cmd := &cobra.Command{
		Use:   "judge <candidate-id>",
		Short: "Record a relevance judgment for a candidate",
		Long: `Record a relevance judgment for a candidate. Scores are -1 (needs review),
0 (irrelevant), 1 (relevant) and 2 (highly relevant). The query counters are
reloaded from the backend after the save.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			j := judgment.Manual(score, reason)
			j.Confidence = confidence

			result, err := judgment.NewStore(a.client, a.log).Update(cmd.Context(), id, j)
			var refreshErr *judgment.RefreshError
			if errors.As(err, &refreshErr) {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", refreshErr)
			} else if err != nil {
				return err
			}

			return a.render(cmd, result, func(w io.Writer) {
				c := result.Candidate
				fmt.Fprintf(w, "Candidate\t%d\n", c.ID)
				fmt.Fprintf(w, "Product\t%s\n", c.Document())
				fmt.Fprintf(w, "Score\t%s\n", formatScore(c.RelevanceScore))
				fmt.Fprintf(w, "Confidence\t%.2f\n", c.ConfidenceValue())
				if c.NeedsReview() {
					fmt.Fprintln(w, "Status\tneeds review")
				}
				if q := result.Query; q != nil {
					fmt.Fprintf(w, "Query\t%d (%s)\n", q.ID, q.Text)
					fmt.Fprintf(w, "Counters\t%d correct, %d incorrect, %d unevaluated\n",
						q.CorrectCount, q.IncorrectCount, q.UnevaluatedCount)
				}
			})
		},
	}

	cmd.Flags().IntVarP(&score, "score", "s", 0, "Relevance score: -1, 0, 1 or 2 (required)")
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "Why the candidate got this score")
	cmd.Flags().Float64Var(&confidence, "confidence", judgment.DefaultConfidence, "Judgment confidence between 0 and 1")
	if err := cmd.MarkFlagRequired("score"); err != nil {
		panic(fmt.Sprintf("failed to mark score flag as required: %v", err))
	}
	return cmd
}
