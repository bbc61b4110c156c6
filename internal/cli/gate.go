package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/gate"
)

// NewGateCmd создаёт группу команд для approval gates.
func NewGateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Inspect and decide approval gates",
	}

	cmd.AddCommand(
		newGateListCmd(clientFn, outputFn),
		newGateShowCmd(clientFn, outputFn),
		newGateDecideCmd(clientFn, outputFn),
	)

	return cmd
}

func newGateListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list RUN_ID",
		Short: "List gates of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			gates, err := client.ListGates(args[0])
			if err != nil {
				return err
			}

			printGates(out, gates)
			return nil
		},
	}
}

func newGateShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_ID NAME",
		Short: "Show gate status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			g, err := client.GetGate(args[0], args[1])
			if err != nil {
				return err
			}

			printGates(out, []GateResponse{*g})
			return nil
		},
	}
}

func newGateDecideCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var actor string
	var dir string

	cmd := &cobra.Command{
		Use:   "decide RUN_ID NAME approved|rejected",
		Short: "Approve or reject a gate",
		Long: "Records an operator decision. With --dir the decision is written\n" +
			"directly to the gate directory of a local `conveyor exec` run.",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			if actor == "" {
				actor = os.Getenv("USER")
			}

			var (
				g   *GateResponse
				err error
			)
			if dir != "" {
				g, err = decideInDir(cmd.Context(), dir, args[0], args[1], args[2], actor)
			} else {
				g, err = clientFn().DecideGate(args[0], args[1], DecideGateRequest{Decision: args[2], Actor: actor})
			}
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Gate %s is %s", g.Name, g.Status))
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "Who takes the decision (default $USER)")
	cmd.Flags().StringVar(&dir, "dir", "", "Gate directory of a local exec run")

	return cmd
}

func decideInDir(ctx context.Context, dir, runID, name, decision, actor string) (*GateResponse, error) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return nil, fmt.Errorf("invalid run id %q", runID)
	}

	store, err := gate.NewFileStore(dir, nil)
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	g, err := gate.DecideString(ctx, store, domain.GateKey{RunID: id, Name: name}, decision, actor)
	if err != nil {
		return nil, err
	}
	return gateResponse(g), nil
}

func gateResponse(g *domain.Gate) *GateResponse {
	resp := &GateResponse{
		RunID:     g.RunID.String(),
		Name:      g.Name,
		Status:    string(g.Status),
		Live:      g.Live,
		Deadline:  g.Deadline.Format("2006-01-02T15:04:05Z07:00"),
		DecidedBy: g.DecidedBy,
	}
	if g.DecidedAt != nil {
		resp.DecidedAt = g.DecidedAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return resp
}

func printGates(out *Output, gates []GateResponse) {
	headers := []string{"RUN_ID", "NAME", "STATUS", "LIVE", "DEADLINE", "DECIDED_BY"}
	rows := make([][]string, len(gates))
	for i, g := range gates {
		rows[i] = []string{g.RunID, g.Name, g.Status, strconv.FormatBool(g.Live), g.Deadline, g.DecidedBy}
	}

	out.Print(headers, rows, gates)
}
