package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewSagaCmd создаёт группу команд для просмотра выполнений saga.
func NewSagaCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "saga",
		Short: "Inspect saga executions",
	}

	cmd.AddCommand(
		newSagaListCmd(clientFn, outputFn),
		newSagaShowCmd(clientFn, outputFn),
	)

	return cmd
}

func newSagaListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saga executions (newest first)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			sagas, total, err := client.ListSagas(opts)
			if err != nil {
				return err
			}

			headers := []string{"SAGA_ID", "STATUS", "STEPS", "RETRIES", "STARTED", "ERROR"}
			rows := make([][]string, len(sagas))
			for i, s := range sagas {
				rows[i] = []string{
					s.SagaID,
					s.Status,
					strconv.Itoa(len(s.CompletedSteps)),
					strconv.Itoa(s.RetryCount),
					s.StartedAt,
					s.Error,
				}
			}

			out.Print(headers, rows, sagas)
			if len(sagas) < total {
				out.Success(fmt.Sprintf("Showing %d of %d", len(sagas), total))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (COMPLETED, COMPENSATED, FAILED, ...)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Max results")

	return cmd
}

func newSagaShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show saga execution with step records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			s, err := client.GetSaga(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Saga %s: %s (completed: %s)", s.SagaID, s.Status, strings.Join(s.CompletedSteps, ", ")))

			headers := []string{"STEP", "STATUS", "ATTEMPTS", "ERROR"}
			rows := make([][]string, len(s.Steps))
			for i, st := range s.Steps {
				rows[i] = []string{st.StepID, st.Status, strconv.Itoa(st.Attempts), st.Error}
			}

			out.Print(headers, rows, s)
			return nil
		},
	}
}
