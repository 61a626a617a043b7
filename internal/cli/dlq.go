package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewDLQCmd создаёт группу команд для dead-letter хранилища.
func NewDLQCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Manage dead-lettered messages",
	}

	cmd.AddCommand(
		newDLQListCmd(clientFn, outputFn),
		newDLQRedriveCmd(clientFn, outputFn),
	)

	return cmd
}

func newDLQListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			msgs, err := client.ListDeadLetters(limit)
			if err != nil {
				return err
			}

			headers := []string{"ID", "MESSAGE_ID", "QUEUE", "ATTEMPTS", "LAST_FAILED", "REASON"}
			rows := make([][]string, len(msgs))
			for i, m := range msgs {
				rows[i] = []string{
					m.ID,
					m.MessageID,
					m.OriginalQueueName,
					strconv.Itoa(m.AttemptCount),
					m.LastFailedAt,
					m.FailureReason,
				}
			}

			out.Print(headers, rows, msgs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Max results")

	return cmd
}

func newDLQRedriveCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "redrive",
		Short: "Reprocess dead-lettered messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			res, err := client.RedriveDeadLetters()
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Redrive finished: %d processed, %d errors", res.Processed, res.Errors))
			if out.jsonMode {
				out.JSON(res)
			}
			return nil
		},
	}
}
