package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// output 终端输出，只有写到终端时才着色
type output struct {
	w io.Writer

	cSuccess *color.Color
	cError   *color.Color
	cInfo    *color.Color
	cBold    *color.Color
	cFaint   *color.Color
}

func newOutput(w io.Writer) *output {
	o := &output{
		w:        w,
		cSuccess: color.New(color.FgGreen),
		cError:   color.New(color.FgRed),
		cInfo:    color.New(color.FgCyan),
		cBold:    color.New(color.Bold),
		cFaint:   color.New(color.Faint),
	}

	enable := isTerminal(w) && os.Getenv("NO_COLOR") == ""
	for _, c := range []*color.Color{o.cSuccess, o.cError, o.cInfo, o.cBold, o.cFaint} {
		if enable {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return o
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (o *output) green(s string) string { return o.cSuccess.Sprint(s) }
func (o *output) red(s string) string   { return o.cError.Sprint(s) }

func (o *output) success(format string, args ...interface{}) {
	fmt.Fprintf(o.w, "%s %s\n", o.cSuccess.Sprint("OK"), fmt.Sprintf(format, args...))
}

func (o *output) info(format string, args ...interface{}) {
	fmt.Fprintf(o.w, "%s %s\n", o.cInfo.Sprint("::"), fmt.Sprintf(format, args...))
}

func (o *output) errorf(format string, args ...interface{}) string {
	return fmt.Sprintf("%s %s", o.cError.Sprint("Error:"), fmt.Sprintf(format, args...))
}

func (o *output) plain(format string, args ...interface{}) {
	fmt.Fprintf(o.w, format+"\n", args...)
}

func (o *output) header(title string) {
	fmt.Fprintln(o.w)
	fmt.Fprintln(o.w, o.cBold.Sprint(title))
	fmt.Fprintln(o.w, o.cFaint.Sprint(strings.Repeat("─", len(title))))
}

func (o *output) keyValue(key, value string) {
	fmt.Fprintf(o.w, "  %-22s %s\n", key+":", value)
}

// table 按列宽对齐的简单表格
type table struct {
	out     *output
	headers []string
	rows    [][]string
	widths  []int
}

func (o *output) table(headers ...string) *table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	return &table{out: o, headers: headers, widths: widths}
}

func (t *table) addRow(cols ...string) {
	for i, col := range cols {
		if i < len(t.widths) && len(col) > t.widths[i] {
			t.widths[i] = len(col)
		}
	}
	t.rows = append(t.rows, cols)
}

func (t *table) render() {
	w := t.out.w
	for i, h := range t.headers {
		// 先补齐再着色，转义序列不计入宽度
		fmt.Fprintf(w, "%s  ", t.out.cBold.Sprint(fmt.Sprintf("%-*s", t.widths[i], h)))
	}
	fmt.Fprintln(w)

	total := 0
	for _, width := range t.widths {
		total += width + 2
	}
	fmt.Fprintln(w, strings.Repeat("─", min(total, 120)))

	for _, row := range t.rows {
		for i, col := range row {
			if i < len(t.widths) {
				fmt.Fprintf(w, "%-*s  ", t.widths[i], col)
			}
		}
		fmt.Fprintln(w)
	}
}
