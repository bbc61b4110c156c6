package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

// OutputMode — формат вывода данных команд.
type OutputMode int

const (
	// ModeTable — таблица для человека (по умолчанию).
	ModeTable OutputMode = iota
	// ModeJSON — JSON с отступами.
	ModeJSON
	// ModeQuiet — только первая колонка, по строке на запись:
	// ID runs и schedules, имена pipelines. Для xargs и скриптов.
	ModeQuiet
)

// Output форматирует вывод CLI. Данные пишутся в w, сообщения — в errW,
// чтобы stdout оставался пригодным для пайпов.
type Output struct {
	mode OutputMode
	w    io.Writer
	errW io.Writer
}

// NewOutput создаёт Output поверх stdout/stderr.
func NewOutput(jsonMode bool) *Output {
	return NewOutputTo(os.Stdout, os.Stderr, jsonMode)
}

// NewOutputTo создаёт Output с явными writer'ами данных и сообщений.
func NewOutputTo(w, errW io.Writer, jsonMode bool) *Output {
	mode := ModeTable
	if jsonMode {
		mode = ModeJSON
	}
	return &Output{mode: mode, w: w, errW: errW}
}

// WithMode возвращает Output с другим режимом.
func (o *Output) WithMode(mode OutputMode) *Output {
	c := *o
	c.mode = mode
	return &c
}

// Mode возвращает текущий режим вывода.
func (o *Output) Mode() OutputMode {
	return o.mode
}

// Print выводит список записей в текущем режиме.
// jsonData — то, что уходит в JSON; rows — его табличное представление.
func (o *Output) Print(headers []string, rows [][]string, jsonData any) {
	switch o.mode {
	case ModeJSON:
		o.JSON(jsonData)
	case ModeQuiet:
		for _, row := range rows {
			if len(row) > 0 {
				fmt.Fprintln(o.w, row[0])
			}
		}
	default:
		if len(rows) == 0 {
			fmt.Fprintln(o.errW, "No results.")
			return
		}
		o.Table(headers, rows)
	}
}

// Table выводит таблицу с подчёркнутыми заголовками. Пустые ячейки
// заменяются на "-", чтобы колонки не съезжали при чтении глазами.
func (o *Output) Table(headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(o.w, 0, 0, 2, ' ', 0)

	underline := make([]string, len(headers))
	for i, h := range headers {
		underline[i] = strings.Repeat("-", len(h))
	}
	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	fmt.Fprintln(tw, strings.Join(underline, "\t"))

	for _, row := range rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = orDash(c)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}

	_ = tw.Flush()
}

// JSON выводит v с отступами.
func (o *Output) JSON(v any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// Raw выводит данные как есть (логи задач).
func (o *Output) Raw(data []byte) {
	_, _ = o.w.Write(data)
}

// Success пишет сообщение об успехе в stderr. В quiet режиме молчит.
func (o *Output) Success(msg string) {
	if o.mode == ModeQuiet {
		return
	}
	fmt.Fprintln(o.errW, msg)
}

// Error пишет сообщение об ошибке в stderr.
func (o *Output) Error(msg string) {
	fmt.Fprintln(o.errW, "Error: "+msg)
}
