package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewBreakerCmd создаёт группу команд для circuit breaker'ов.
func NewBreakerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breaker",
		Short: "Manage circuit breakers",
	}

	cmd.AddCommand(
		newBreakerListCmd(clientFn, outputFn),
		newBreakerForceCmd(clientFn, outputFn, true),
		newBreakerForceCmd(clientFn, outputFn, false),
	)

	return cmd
}

func newBreakerListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List breaker states",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			list, err := client.ListBreakers()
			if err != nil {
				return err
			}

			out.Print(breakerHeaders, breakerRows(list...), list)
			return nil
		},
	}
}

func newBreakerForceCmd(clientFn func() *Client, outputFn func() *Output, open bool) *cobra.Command {
	use, short := "close NAME", "Force a breaker CLOSED and reset its counters"
	if open {
		use, short = "open NAME", "Force a breaker OPEN"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			status, err := client.ForceBreaker(args[0], open)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Breaker %s is now %s", status.Name, status.State))
			out.Print(breakerHeaders, breakerRows(*status), status)
			return nil
		},
	}
}

var breakerHeaders = []string{"NAME", "STATE", "HEALTHY", "FAILURE_RATE", "NEXT_ATTEMPT"}

func breakerRows(list ...BreakerStatus) [][]string {
	rows := make([][]string, len(list))
	for i, b := range list {
		rows[i] = []string{b.Name, b.State, healthyLabel(b.IsHealthy), fmt.Sprintf("%.2f", b.FailureRate), b.NextAttemptTime}
	}
	return rows
}
