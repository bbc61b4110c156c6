package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunStartCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
		newRunTasksCmd(clientFn, outputFn),
		newRunLogCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var pipeline string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(ListRunsOpts{
				Pipeline: pipeline,
				Status:   status,
				Limit:    limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"ID", "PIPELINE", "VERSION", "STATUS", "REASON", "CREATED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{r.ID, r.Pipeline, strconv.Itoa(r.Version), r.Status, r.Reason, r.CreatedAt}
			}

			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&pipeline, "pipeline", "", "Filter by pipeline name")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (PENDING, RUNNING, SUCCEEDED, FAILED, CANCELLED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var version int
	var params []string
	var idempotencyKey string

	cmd := &cobra.Command{
		Use:   "start PIPELINE",
		Short: "Start a new run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			parsed, err := parseParams(params)
			if err != nil {
				return err
			}

			req := CreateRunRequest{
				Params:         parsed,
				IdempotencyKey: idempotencyKey,
			}
			if cmd.Flags().Changed("version") {
				req.Version = &version
			}

			run, err := client.CreateRun(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run started: %s", run.ID))
			out.Print(
				[]string{"ID", "PIPELINE", "VERSION", "STATUS", "CREATED"},
				[][]string{{run.ID, run.Pipeline, strconv.Itoa(run.Version), run.Status, run.CreatedAt}},
				run,
			)
			return nil
		},
	}

	cmd.Flags().IntVar(&version, "version", 0, "Pipeline version (latest if not specified)")
	cmd.Flags().StringSliceVar(&params, "param", nil, "Run params as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Return the existing run for a repeated key")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetRun(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "PIPELINE", "VERSION", "STATUS", "REASON", "FAILED_TASK", "CREATED"},
				[][]string{{run.ID, run.Pipeline, strconv.Itoa(run.Version), run.Status, run.Reason, run.FailedTask, run.CreatedAt}},
				run,
			)
			return nil
		},
	}
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a pending or running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.CancelRun(args[0])
			if err != nil {
				return err
			}

			if run.Status == "CANCELLED" {
				out.Success(fmt.Sprintf("Run cancelled: %s", run.ID))
			} else {
				out.Success(fmt.Sprintf("Cancellation requested: %s", run.ID))
			}
			return nil
		},
	}
}

func newRunTasksCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks RUN_ID",
		Short: "List tasks in a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			tasks, err := client.ListTasks(args[0])
			if err != nil {
				return err
			}

			printTasks(out, tasks)
			return nil
		},
	}
}

func newRunLogCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "log RUN_ID TASK",
		Short: "Print task output",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			data, err := client.TaskLog(args[0], args[1])
			if err != nil {
				return err
			}

			out.Raw(data)
			return nil
		},
	}
}

// printTasks выводит состояния задач run.
func printTasks(out *Output, tasks []TaskResponse) {
	headers := []string{"TASK", "STATUS", "REASON", "EXIT", "ATTEMPTS", "SKIPPED_BY"}
	rows := make([][]string, len(tasks))
	for i, t := range tasks {
		rows[i] = []string{t.Name, t.Status, t.Reason, formatExit(t.ExitCode), strconv.Itoa(t.Attempts), t.SkippedBy}
	}

	out.Print(headers, rows, tasks)
}
