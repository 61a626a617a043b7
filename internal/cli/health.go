package cli

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
)

// NewHealthCmd создаёт команду просмотра состояния системы.
func NewHealthCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show pipeline health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			rep, err := client.Health()
			if err != nil {
				return err
			}

			names := make([]string, 0, len(rep.CircuitBreakers))
			for name := range rep.CircuitBreakers {
				names = append(names, name)
			}
			sort.Strings(names)

			headers := []string{"COMPONENT", "STATE", "DETAILS"}
			rows := make([][]string, 0, len(names)+3)
			for _, name := range names {
				b := rep.CircuitBreakers[name]
				rows = append(rows, []string{"breaker/" + name, b.State, fmt.Sprintf("failure rate %.2f", b.FailureRate)})
			}
			if rep.Saga != nil {
				rows = append(rows, []string{"saga", "-", fmt.Sprintf("%d executions", rep.Saga.ExecutionCount)})
			}
			if rep.DLQ != nil {
				rows = append(rows, []string{"dlq", healthyLabel(rep.DLQ.IsHealthy), strconv.Itoa(rep.DLQ.DeadLettered) + " dead-lettered"})
			}
			if rep.Outbox != nil {
				rows = append(rows, []string{"outbox", "-", fmt.Sprintf("pending %d, failed %d", rep.Outbox.Pending, rep.Outbox.Failed)})
			}
			for src, msg := range rep.Errors {
				rows = append(rows, []string{src, "ERROR", msg})
			}

			out.Success("Status: " + rep.Status)
			out.Print(headers, rows, rep)
			return nil
		},
	}
}

func healthyLabel(ok bool) string {
	if ok {
		return "HEALTHY"
	}
	return "UNHEALTHY"
}
