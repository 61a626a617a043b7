// Clinic CLI — инструмент оператора конвейера записи через HTTP API.
//
// Использование:
//
//	clinic [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	health   Сводное состояние
//	book     Поставить запись в очередь
//	saga     Выполнения saga
//	dlq      Dead-letter хранилище
//	outbox   Transactional outbox
//	breaker  Circuit breaker'ы
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/ClinicBooking/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "clinic",
		Short:         "Clinic CLI — appointment booking pipeline operator tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8082", "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewHealthCmd(clientFn, outputFn),
		cli.NewBookCmd(clientFn, outputFn),
		cli.NewSagaCmd(clientFn, outputFn),
		cli.NewDLQCmd(clientFn, outputFn),
		cli.NewOutboxCmd(clientFn, outputFn),
		cli.NewBreakerCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		outputFn().Error(err)
		os.Exit(1)
	}
}
