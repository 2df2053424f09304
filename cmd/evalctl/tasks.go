package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/nadmax/searcheval/internal/task"
	"github.com/spf13/cobra"
)

func (a *app) newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect backend jobs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "running",
		Short: "List jobs the backend still runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tasks, err := a.client.RunningTasks(cmd.Context())
			if err != nil {
				return err
			}
			return a.render(cmd, tasks, func(w io.Writer) {
				writeTasks(w, tasks)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <task-id>",
		Short: "Show the status of one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			t, err := a.client.GetTask(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.render(cmd, t, func(w io.Writer) {
				writeTasks(w, []task.Task{*t})
				if t.Status == task.StatusFailed {
					fmt.Fprintf(w, "\nerror: %s\n", t.ErrorOr("task failed"))
				}
			})
		},
	})

	return cmd
}

func writeTasks(w io.Writer, tasks []task.Task) {
	fmt.Fprintln(w, "ID\tKIND\tSTATUS\tPROGRESS\tMESSAGE")
	for _, t := range tasks {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d%%\t%s\n", t.ID, t.Kind, t.Status, t.Progress, t.Message)
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
