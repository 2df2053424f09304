package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nadmax/searcheval/internal/evaluation"
	"github.com/nadmax/searcheval/internal/report"
	"github.com/nadmax/searcheval/internal/repository"
	"github.com/spf13/cobra"
)

func (a *app) newReportsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Read, compare and archive evaluation reports",
	}

	cmd.AddCommand(a.newReportsListCmd())
	cmd.AddCommand(a.newReportsShowCmd())
	cmd.AddCommand(a.newReportsDeleteCmd())
	cmd.AddCommand(a.newReportsCompareCmd())
	cmd.AddCommand(a.newReportsVerifyCmd())
	cmd.AddCommand(a.newReportsArchiveCmd())
	cmd.AddCommand(a.newReportsArchivedCmd())
	return cmd
}

func (a *app) newReportsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List reports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reports, err := a.client.ListReports(cmd.Context())
			if err != nil {
				return err
			}
			return a.render(cmd, reports, func(w io.Writer) {
				fmt.Fprintln(w, "ID\tNAME\tCREATED\tQUERIES\tPRECISION\tRECALL\tF1\tNDCG")
				for i := range reports {
					r := &reports[i]
					ndcg := "-"
					if v, ok := report.AverageNDCG(r); ok {
						ndcg = fmt.Sprintf("%.3f", v)
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%.3f\t%.3f\t%.3f\t%s\n",
						r.ID, r.ReportName, formatTime(r.CreatedAt.Time), r.TotalQueries,
						r.AveragePrecision, r.AverageRecall, r.AverageF1Score, ndcg)
				}
			})
		},
	}
}

func (a *app) newReportsShowCmd() *cobra.Command {
	var (
		sortKey  string
		order    string
		issues   bool
		archived bool
	)

	cmd := &cobra.Command{
		Use:   "show <report-id>",
		Short: "Show the per-query details of a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			key, err := report.ParseSortKey(sortKey)
			if err != nil {
				return err
			}
			ord, err := report.ParseOrder(order)
			if err != nil {
				return err
			}

			var rep *report.Report
			if archived {
				archive, err := a.archive(cmd.Context())
				if err != nil {
					return err
				}
				defer func() { _ = archive.Close() }()
				rep, err = archive.GetReport(cmd.Context(), id)
				if err != nil {
					return err
				}
			} else {
				rep, err = a.client.GetReport(cmd.Context(), id)
				if err != nil {
					return err
				}
			}

			result := report.ParseDetails(rep)
			if !result.Success {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", result.Error)
				return a.render(cmd, result, func(w io.Writer) {
					fmt.Fprintf(w, "Report %d (%s) has unreadable details:\n%s\n", rep.ID, rep.ReportName, result.Raw)
				})
			}

			details := result.Details
			if issues {
				details = report.FilterWithIssues(details)
			}
			details = report.Sort(details, key, ord)

			return a.render(cmd, details, func(w io.Writer) {
				fmt.Fprintf(w, "Report %d (%s)\n", rep.ID, rep.ReportName)
				fmt.Fprintln(w, "QUERY\tPRECISION\tRECALL\tF1\tNDCG@20\tCORRECT\tRETRIEVED\tMISSING\tWRONG")
				for _, d := range details {
					fmt.Fprintf(w, "%s\t%.3f\t%.3f\t%.3f\t%s\t%d\t%d\t%s\t%s\n",
						d.Query, d.Precision, d.Recall, d.F1Score, formatFloat(d.NDCG20),
						d.CorrectCount, d.RetrievedCount, joinRefs(d.MissingDocuments), joinRefs(d.WrongDocuments))
				}
			})
		},
	}

	cmd.Flags().StringVar(&sortKey, "sort", "f1", "Sort by f1, precision, recall, correctCount or retrievedCount")
	cmd.Flags().StringVar(&order, "order", "desc", "Sort order: asc or desc")
	cmd.Flags().BoolVar(&issues, "issues", false, "Only show queries with missing or wrong documents")
	cmd.Flags().BoolVar(&archived, "archived", false, "Read the report from the archive instead of the backend")
	return cmd
}

func (a *app) newReportsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <report-id>",
		Short: "Delete a report from the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := a.client.DeleteReport(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted report %d\n", id)
			return nil
		},
	}
}

func (a *app) newReportsCompareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare <base-id> <target-id>",
		Short: "Compare the aggregate metrics of two reports",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := parseID(args[0])
			if err != nil {
				return err
			}
			target, err := parseID(args[1])
			if err != nil {
				return err
			}

			reports, err := a.client.GetReports(cmd.Context(), base, target)
			if err != nil {
				return err
			}

			cmp := report.Compare(reports[0], reports[1])
			return a.render(cmd, cmp, func(w io.Writer) {
				fmt.Fprintf(w, "METRIC\t%s\t%s\tCHANGE\n", cmp.BaseName, cmp.Target)
				for _, d := range cmp.Deltas {
					fmt.Fprintf(w, "%s\t%.3f\t%.3f\t%+.3f\n", d.Metric, d.Base, d.Target, d.Change)
				}
			})
		},
	}
}

func (a *app) newReportsVerifyCmd() *cobra.Command {
	var tolerance float64

	cmd := &cobra.Command{
		Use:   "verify <report-id>",
		Short: "Recompute a report's aggregates from its details and check them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rep, err := a.client.GetReport(cmd.Context(), id)
			if err != nil {
				return err
			}

			v, err := report.Verify(rep, tolerance)
			if err != nil {
				return err
			}

			if err := a.render(cmd, v, func(w io.Writer) {
				if v.OK() {
					fmt.Fprintf(w, "Report %d (%s) matches its details\n", v.ReportID, v.ReportName)
					return
				}
				fmt.Fprintln(w, "METRIC\tSTORED\tRECOMPUTED\tDIFFERENCE")
				for _, d := range v.Mismatches {
					fmt.Fprintf(w, "%s\t%.3f\t%.3f\t%+.3f\n", d.Metric, d.Base, d.Target, d.Change)
				}
			}); err != nil {
				return err
			}

			if !v.OK() {
				return fmt.Errorf("report %d differs from its details in %d metrics", v.ReportID, len(v.Mismatches))
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&tolerance, "tolerance", report.DefaultTolerance, "Largest accepted difference per metric")
	return cmd
}

func (a *app) newReportsArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <report-id>...",
		Short: "Copy reports into the archive",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := parseID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			archive, err := a.archive(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = archive.Close() }()

			reports, err := a.client.GetReports(cmd.Context(), ids...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, rep := range reports {
				archived, err := archive.Archive(cmd.Context(), rep)
				switch {
				case errors.Is(err, repository.ErrAlreadyArchived):
					fmt.Fprintf(out, "Report %d is already archived\n", rep.ID)
				case err != nil:
					return err
				default:
					fmt.Fprintf(out, "Archived report %d (%s) at %s\n", archived.ReportID, archived.ReportName, formatTime(archived.ArchivedAt))
				}
			}
			return nil
		},
	}
}

func (a *app) newReportsArchivedCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "archived",
		Short: "List archived reports, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			archive, err := a.archive(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = archive.Close() }()

			archived, err := archive.ListArchived(cmd.Context(), limit)
			if err != nil {
				return err
			}

			return a.render(cmd, archived, func(w io.Writer) {
				fmt.Fprintln(w, "ID\tNAME\tARCHIVED\tQUERIES\tF1")
				for _, r := range archived {
					fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%.3f\n",
						r.ReportID, r.ReportName, formatTime(r.ArchivedAt), r.Summary.TotalQueries, r.Summary.AverageF1Score)
				}
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of reports to list")
	return cmd
}

func joinRefs(refs []evaluation.DocumentRef) string {
	if len(refs) == 0 {
		return "-"
	}
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ID())
	}
	return strings.Join(ids, ",")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatScore(score *int) string {
	if score == nil {
		return "ungraded"
	}
	return strconv.Itoa(*score)
}
