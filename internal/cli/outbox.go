package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewOutboxCmd создаёт группу команд для transactional outbox.
func NewOutboxCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect the transactional outbox",
	}

	cmd.AddCommand(
		newOutboxStatsCmd(clientFn, outputFn),
		newOutboxEventsCmd(clientFn, outputFn),
		newOutboxRedriveCmd(clientFn, outputFn),
	)

	return cmd
}

func newOutboxStatsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show outbox backlog by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			stats, err := client.OutboxStats()
			if err != nil {
				return err
			}

			out.Print(
				[]string{"PENDING", "PROCESSING", "PROCESSED", "FAILED"},
				[][]string{{
					strconv.Itoa(stats.Pending),
					strconv.Itoa(stats.Processing),
					strconv.Itoa(stats.Processed),
					strconv.Itoa(stats.Failed),
				}},
				stats,
			)
			return nil
		},
	}
}

func newOutboxEventsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListOpts

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List outbox events",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			events, err := client.ListOutboxEvents(opts)
			if err != nil {
				return err
			}

			headers := []string{"ID", "TYPE", "AGGREGATE", "VERSION", "STATUS", "RETRIES", "ERROR"}
			rows := make([][]string, len(events))
			for i, e := range events {
				rows[i] = []string{
					e.ID,
					e.EventType,
					e.AggregateID,
					strconv.Itoa(e.Version),
					e.Status,
					fmt.Sprintf("%d/%d", e.RetryCount, e.MaxRetries),
					e.Error,
				}
			}

			out.Print(headers, rows, events)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (PENDING, PROCESSING, PROCESSED, FAILED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Max results")

	return cmd
}

func newOutboxRedriveCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "redrive",
		Short: "Move FAILED events back to PENDING",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			n, err := client.RedriveOutbox(limit)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Requeued %d events", n))
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Max events to requeue")

	return cmd
}
