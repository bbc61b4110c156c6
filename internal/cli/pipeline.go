package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewPipelineCmd создаёт группу команд для управления pipelines.
func NewPipelineCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Manage pipelines",
	}

	cmd.AddCommand(
		newPipelineListCmd(clientFn, outputFn),
		newPipelineRegisterCmd(clientFn, outputFn),
		newPipelineShowCmd(clientFn, outputFn),
		newPipelineVersionsCmd(clientFn, outputFn),
		newPipelineDeleteCmd(clientFn, outputFn),
	)

	return cmd
}

func newPipelineListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			pipelines, err := client.ListPipelines()
			if err != nil {
				return err
			}

			headers := []string{"NAME", "VERSION", "TASKS", "CREATED"}
			rows := make([][]string, len(pipelines))
			for i, p := range pipelines {
				rows[i] = []string{p.Name, strconv.Itoa(p.Version), strconv.Itoa(len(p.Tasks)), p.CreatedAt}
			}

			out.Print(headers, rows, pipelines)
			return nil
		},
	}
}

func newPipelineRegisterCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "register FILE",
		Short: "Register a new pipeline version from a YAML or JSON manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read manifest: %w", err)
			}

			p, err := client.RegisterPipeline(data)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Pipeline %s registered as version %d", p.Name, p.Version))
			printTiers(out, p)
			return nil
		},
	}
}

func newPipelineShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var version int

	cmd := &cobra.Command{
		Use:   "show NAME",
		Short: "Show pipeline tasks grouped by tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			var (
				p   *PipelineResponse
				err error
			)
			if cmd.Flags().Changed("version") {
				p, err = client.GetPipelineVersion(args[0], version)
			} else {
				p, err = client.GetPipeline(args[0])
			}
			if err != nil {
				return err
			}

			printTiers(out, p)
			return nil
		},
	}

	cmd.Flags().IntVar(&version, "version", 0, "Pipeline version (latest if not specified)")

	return cmd
}

func newPipelineVersionsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "versions NAME",
		Short: "List pipeline versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			versions, err := client.ListVersions(args[0])
			if err != nil {
				return err
			}

			headers := []string{"NAME", "VERSION", "TASKS", "CREATED"}
			rows := make([][]string, len(versions))
			for i, v := range versions {
				rows[i] = []string{v.Name, strconv.Itoa(v.Version), strconv.Itoa(len(v.Tasks)), v.CreatedAt}
			}

			out.Print(headers, rows, versions)
			return nil
		},
	}
}

func newPipelineDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a pipeline with all versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeletePipeline(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Pipeline deleted: %s", args[0]))
			return nil
		},
	}
}

// printTiers выводит задачи pipeline по tiers.
func printTiers(out *Output, p *PipelineResponse) {
	kinds := make(map[string]TaskDefResponse, len(p.Tasks))
	for _, t := range p.Tasks {
		kinds[t.Name] = t
	}

	headers := []string{"TIER", "TASK", "KIND", "DEPENDS_ON"}
	var rows [][]string
	for i, tier := range p.Tiers {
		for _, name := range tier {
			t := kinds[name]
			kind := t.Kind
			if kind == "" {
				kind = "command"
			}
			rows = append(rows, []string{strconv.Itoa(i), name, kind, strings.Join(t.DependsOn, ",")})
		}
	}

	out.Print(headers, rows, p)
}

// parseParams разбирает флаги KEY=VALUE.
func parseParams(kvs []string) (map[string]string, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, fmt.Errorf("invalid param format %q, expected KEY=VALUE", kv)
		}
		params[parts[0]] = parts[1]
	}
	return params, nil
}
