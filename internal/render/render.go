// Package render formats bridge traffic for the console driver.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
)

// Kind classifies an operator log line by its prefix.
type Kind int

const (
	KindPlain Kind = iota
	KindOK
	KindError
	KindAction
	KindInfo
)

// Classify sorts a bridge log line the way the operator pane colours it:
// "OK " success, "X " or "erreur" failure, ">>>" progress, "===" or "---"
// section markers.
func Classify(line string) Kind {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(line, "OK ") || strings.Contains(lower, "succes"):
		return KindOK
	case strings.HasPrefix(line, "X ") || strings.Contains(line, " X ") || strings.Contains(lower, "erreur"):
		return KindError
	case strings.Contains(line, ">>>"):
		return KindAction
	case strings.Contains(line, "===") || strings.Contains(line, "---"):
		return KindInfo
	}
	return KindPlain
}

// Writer renders lines to an output stream.
type Writer struct {
	out    io.Writer
	pretty bool
	now    func() time.Time
}

// NewWriter creates a Writer. With pretty false no colour codes or
// timestamps are written.
func NewWriter(w io.Writer, pretty bool) *Writer {
	return &Writer{out: w, pretty: pretty, now: time.Now}
}

// Stdout returns a colouring Writer on os.Stdout.
func Stdout() *Writer {
	return NewWriter(os.Stdout, true)
}

// Println writes formatted text with newline.
func (w *Writer) Println(format string, args ...any) {
	fmt.Fprintf(w.out, format+"\n", args...)
}

// Log writes one bridge log line, timestamped and coloured by Kind.
func (w *Writer) Log(line string) {
	if !w.pretty {
		fmt.Fprintln(w.out, line)
		return
	}
	stamp := color.HiBlackString("[%s]", w.now().Format("15:04:05"))
	fmt.Fprintf(w.out, "%s %s\n", stamp, paint(Classify(line), line))
}

func paint(k Kind, line string) string {
	switch k {
	case KindOK:
		return color.GreenString(line)
	case KindError:
		return color.RedString(line)
	case KindAction:
		return color.YellowString(line)
	case KindInfo:
		return color.CyanString(line)
	}
	return line
}

// Section writes a "--- title ---" separator.
func (w *Writer) Section(title string) {
	w.Log("--- " + title + " ---")
}

// Human writes what the operator said.
func (w *Writer) Human(text string) {
	w.speaker("You", color.New(color.Bold), text)
}

// Robot writes what the robot said.
func (w *Writer) Robot(text string) {
	w.speaker("NAO", color.New(color.FgMagenta, color.Bold), text)
}

func (w *Writer) speaker(name string, c *color.Color, text string) {
	if !w.pretty {
		fmt.Fprintf(w.out, "%s: %s\n", name, text)
		return
	}
	fmt.Fprintf(w.out, "%s %s\n", c.Sprint(name+":"), text)
}

// Failure writes an error line.
func (w *Writer) Failure(format string, args ...any) {
	w.Log("X " + fmt.Sprintf(format, args...))
}

// Truncate shortens a string to max runes.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
