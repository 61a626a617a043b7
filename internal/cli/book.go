package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewBookCmd создаёт команду постановки записи в очередь.
func NewBookCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req BookingRequest
	var at string

	cmd := &cobra.Command{
		Use:   "book",
		Short: "Queue an appointment booking",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			t, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return fmt.Errorf("invalid value for --at (want RFC3339): %s", at)
			}
			req.ScheduledAt = t.UTC().Format(time.RFC3339)

			msgID, err := client.Book(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Booking queued: %s", msgID))
			out.Print([]string{"MESSAGE_ID"}, [][]string{{msgID}}, map[string]string{"message_id": msgID})
			return nil
		},
	}

	cmd.Flags().StringVar(&req.PsychologistID, "psychologist", "", "Psychologist ID (required)")
	cmd.Flags().StringVar(&at, "at", "", "Appointment start, RFC3339 (required)")
	cmd.Flags().StringVar(&req.PatientID, "patient", "", "Existing patient ID")
	cmd.Flags().StringVar(&req.PatientEmail, "email", "", "Patient email (used when --patient is empty)")
	cmd.Flags().StringVar(&req.PatientName, "name", "", "Patient name")
	cmd.Flags().StringVar(&req.PatientPhone, "phone", "", "Patient phone")
	cmd.Flags().StringVar(&req.AppointmentID, "appointment", "", "Appointment ID (generated if empty)")
	cmd.Flags().IntVar(&req.DurationMin, "duration", 0, "Duration in minutes (default 50)")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "Notes")
	cmd.MarkFlagRequired("psychologist")
	cmd.MarkFlagRequired("at")

	return cmd
}
