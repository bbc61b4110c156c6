package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewScheduleCmd создаёт группу команд для управления schedules.
func NewScheduleCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage schedules",
	}

	cmd.AddCommand(
		newScheduleListCmd(clientFn, outputFn),
		newScheduleCreateCmd(clientFn, outputFn),
		newScheduleShowCmd(clientFn, outputFn),
		newScheduleUpdateCmd(clientFn, outputFn),
		newScheduleDeleteCmd(clientFn, outputFn),
		newScheduleToggleCmd(clientFn, outputFn, true),
		newScheduleToggleCmd(clientFn, outputFn, false),
	)

	return cmd
}

// scheduleTrigger — общие флаги расписания для create и update.
type scheduleTrigger struct {
	name        string
	cronExpr    string
	intervalSec int
	timezone    string
	params      []string
}

func (t *scheduleTrigger) bind(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&t.name, "name", "", "Schedule name")
	f.StringVar(&t.cronExpr, "cron", "", "Cron expression (e.g. '0 * * * *' or '@daily')")
	f.IntVar(&t.intervalSec, "interval", 0, "Interval in seconds")
	f.StringVar(&t.timezone, "timezone", "", "IANA timezone for cron (e.g. 'Europe/Moscow')")
	f.StringSliceVar(&t.params, "param", nil, "Run params as KEY=VALUE (repeatable)")
}

func newScheduleListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var pipeline string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			schedules, err := clientFn().ListSchedules(pipeline)
			if err != nil {
				return err
			}
			printSchedules(outputFn(), schedules, schedules)
			return nil
		},
	}

	cmd.Flags().StringVar(&pipeline, "pipeline", "", "Filter by pipeline name")

	return cmd
}

func newScheduleCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var trigger scheduleTrigger
	var disabled bool

	cmd := &cobra.Command{
		Use:   "create PIPELINE",
		Short: "Create a schedule for a pipeline",
		Long:  "Exactly one of --cron and --interval must be set.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			params, err := parseParams(trigger.params)
			if err != nil {
				return err
			}

			schedule, err := clientFn().CreateSchedule(args[0], CreateScheduleRequest{
				Name:        trigger.name,
				CronExpr:    trigger.cronExpr,
				IntervalSec: trigger.intervalSec,
				Timezone:    trigger.timezone,
				Enabled:     !disabled,
				Params:      params,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Schedule created: %s", schedule.ID))
			printSchedules(out, []ScheduleResponse{*schedule}, schedule)
			return nil
		},
	}

	trigger.bind(cmd)
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the schedule disabled")
	cmd.MarkFlagsMutuallyExclusive("cron", "interval")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newScheduleShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show schedule details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schedule, err := clientFn().GetSchedule(args[0])
			if err != nil {
				return err
			}
			printSchedules(outputFn(), []ScheduleResponse{*schedule}, schedule)
			return nil
		},
	}
}

func newScheduleUpdateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var trigger scheduleTrigger

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update a schedule",
		Long: "Only the given flags change. Setting --cron clears the interval\n" +
			"and setting --interval clears the cron expression.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()
			changed := cmd.Flags().Changed

			var req UpdateScheduleRequest
			if changed("name") {
				req.Name = &trigger.name
			}
			if changed("cron") {
				req.CronExpr = &trigger.cronExpr
			}
			if changed("interval") {
				req.IntervalSec = &trigger.intervalSec
			}
			if changed("timezone") {
				req.Timezone = &trigger.timezone
			}
			if changed("param") {
				params, err := parseParams(trigger.params)
				if err != nil {
					return err
				}
				if params == nil {
					params = map[string]string{}
				}
				req.Params = &params
			}

			schedule, err := clientFn().UpdateSchedule(args[0], req)
			if err != nil {
				return err
			}

			out.Success("Schedule updated")
			printSchedules(out, []ScheduleResponse{*schedule}, schedule)
			return nil
		},
	}

	trigger.bind(cmd)
	cmd.MarkFlagsMutuallyExclusive("cron", "interval")

	return cmd
}

func newScheduleDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFn().DeleteSchedule(args[0]); err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Schedule deleted: %s", args[0]))
			return nil
		},
	}
}

// newScheduleToggleCmd создаёт команду enable или disable.
func newScheduleToggleCmd(clientFn func() *Client, outputFn func() *Output, enabled bool) *cobra.Command {
	verb, short := "disable", "Disable a schedule"
	if enabled {
		verb, short = "enable", "Enable a schedule"
	}

	return &cobra.Command{
		Use:   verb + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schedule, err := clientFn().SetScheduleEnabled(args[0], enabled)
			if err != nil {
				return err
			}
			outputFn().Success(fmt.Sprintf("Schedule %sd: %s (next due %s)", verb, schedule.ID, orDash(schedule.NextDueAt)))
			return nil
		},
	}
}

// printSchedules выводит таблицу schedules. В JSON режиме выводится raw.
func printSchedules(out *Output, schedules []ScheduleResponse, raw any) {
	headers := []string{"ID", "PIPELINE", "NAME", "TRIGGER", "TIMEZONE", "ENABLED", "NEXT_DUE", "LAST_RUN"}
	rows := make([][]string, len(schedules))
	for i, s := range schedules {
		rows[i] = []string{
			s.ID, s.Pipeline, s.Name, formatTrigger(s), s.Timezone,
			strconv.FormatBool(s.Enabled), orDash(s.NextDueAt), orDash(s.LastRunID),
		}
	}
	out.Print(headers, rows, raw)
}

func formatTrigger(s ScheduleResponse) string {
	if s.CronExpr != "" {
		return "cron " + s.CronExpr
	}
	if s.IntervalSec > 0 {
		return "every " + strconv.Itoa(s.IntervalSec) + "s"
	}
	return "-"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
