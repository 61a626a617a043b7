package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// maxCellWidth — предел ширины ячейки таблицы. Причины отказов DLQ
// и ошибки outbox бывают длинными.
const maxCellWidth = 60

// Output форматирует вывод CLI: таблицы для оператора или JSON для скриптов.
type Output struct {
	jsonMode bool
	w        io.Writer // stdout: данные
	errW     io.Writer // stderr: статусные сообщения
}

// NewOutput создаёт Output, пишущий в stdout/stderr.
func NewOutput(jsonMode bool) *Output {
	return &Output{
		jsonMode: jsonMode,
		w:        os.Stdout,
		errW:     os.Stderr,
	}
}

// Print выводит список: таблицу или jsonData в JSON-режиме.
// Пустой список в табличном режиме выводится как "No results".
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	if o.jsonMode {
		o.JSON(jsonData)
		return
	}
	if len(rows) == 0 {
		fmt.Fprintln(o.errW, "No results")
		return
	}
	o.Table(headers, rows)
}

// Table выводит таблицу с разделителем под заголовками.
func (o *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	dashes := make([]string, len(headers))
	for i, h := range headers {
		dashes[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(dashes, "\t"))

	for _, row := range rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = cell(c)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}

	tw.Flush()
}

// cell готовит значение для таблицы: одна строка, не шире maxCellWidth.
func cell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "-"
	}
	if r := []rune(s); len(r) > maxCellWidth {
		return string(r[:maxCellWidth-3]) + "..."
	}
	return s
}

// JSON выводит v с отступами.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// Success выводит статусное сообщение в stderr.
// В JSON-режиме молчит: stdout содержит только данные.
func (o *Output) Success(msg string) {
	if o.jsonMode {
		return
	}
	fmt.Fprintln(o.errW, msg)
}

// Error выводит ошибку команды: {"error": ...} в stdout в JSON-режиме,
// иначе "Error: ..." в stderr.
func (o *Output) Error(err error) {
	if o.jsonMode {
		o.JSON(map[string]string{"error": err.Error()})
		return
	}
	fmt.Fprintln(o.errW, "Error: "+err.Error())
}
