package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Colors accepted by KeyValue.
const (
	White        = white
	BrightWhite  = brightWhite
	BrightGreen  = brightGreen
	BrightYellow = brightYellow
)

var (
	outMu  sync.Mutex
	out    io.Writer = os.Stdout
	errOut io.Writer = os.Stderr
)

// SetOutput redirects all console output, errors included, to w. It returns a
// func restoring the previous writers.
func SetOutput(w io.Writer) (restore func()) {
	outMu.Lock()
	defer outMu.Unlock()

	prevOut, prevErr := out, errOut
	out, errOut = w, w
	return func() {
		outMu.Lock()
		out, errOut = prevOut, prevErr
		outMu.Unlock()
	}
}

func printf(format string, args ...interface{}) {
	outMu.Lock()
	defer outMu.Unlock()
	fmt.Fprintf(out, format, args...)
}

// mark prints a glyph-prefixed line, e.g. "  ✓ done".
func mark(w io.Writer, glyph, glyphColor, msgColor, msg string) {
	if msgColor == "" {
		fmt.Fprintf(w, "  %s%s%s%s %s\n", glyphColor, bold, glyph, reset, msg)
		return
	}
	fmt.Fprintf(w, "  %s%s%s%s %s%s%s\n", glyphColor, bold, glyph, reset, msgColor, msg, reset)
}

// ── pipeline steps ──────────────────────────────────────────

// Step prints "  [1/2] Extracting text from doc.pdf...".
func Step(step, total int, msg string) {
	printf("  %s%s[%d/%d]%s %s%s%s\n", bold, brightCyan, step, total, reset, white, msg, reset)
}

// StepDetail prints a dimmed line under the current step.
func StepDetail(msg string) {
	printf("        %s%s%s\n", dim+white, msg, reset)
}

// StepResult prints a highlighted value under the current step.
func StepResult(label string, value interface{}) {
	printf("        %s%s%s %s%v%s\n", dim, label, reset, bold+brightGreen, value, reset)
}

// StepWarn prints a warning under the current step.
func StepWarn(msg string) {
	printf("        %s%s⚠ %s%s\n", yellow, bold, msg, reset)
}

// ── messages ────────────────────────────────────────────────

func Info(msg string) {
	outMu.Lock()
	defer outMu.Unlock()
	mark(out, "ℹ", brightBlue, "", msg)
}

func Success(msg string) {
	outMu.Lock()
	defer outMu.Unlock()
	mark(out, "✓", brightGreen, "", msg)
}

func Warn(msg string) {
	outMu.Lock()
	defer outMu.Unlock()
	mark(out, "⚠", brightYellow, yellow, msg)
}

// ErrorMsg prints to stderr.
func ErrorMsg(msg string) {
	outMu.Lock()
	defer outMu.Unlock()
	mark(errOut, "✗", brightRed, red, msg)
}

// ── sections ────────────────────────────────────────────────

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// Header prints a document title followed by a rule.
func Header(msg string) {
	printf("\n  %s%s%s%s\n  %s%s%s%s\n", bold, brightCyan, msg, reset, dim, cyan, rule, reset)
}

func SubHeader(msg string) {
	printf("\n  %s%s%s%s\n", bold, brightYellow, msg, reset)
}

// KeyValue prints an aligned "key  value" row.
func KeyValue(key string, value interface{}, valueColor string) {
	printf("    %s%s%s  %s%v%s\n", dim, padRight(key, 18), reset, valueColor, value, reset)
}

// NextSteps prints a numbered list of follow-up commands.
func NextSteps(steps []string) {
	var b strings.Builder
	fmt.Fprintf(&b, "\n  %s%s📋 Next Steps%s\n", bold, brightYellow, reset)
	for i, step := range steps {
		fmt.Fprintf(&b, "    %s%s%d.%s %s\n", bold, brightWhite, i+1, reset, step)
	}
	printf("%s", b.String())
}

func FileCreated(path string) {
	printf("    %s%s✓%s %s%s%s\n", brightGreen, bold, reset, dim+white, path, reset)
}

// ── conversation ────────────────────────────────────────────

// Exchange prints question n and its answer. A pending answer shows an
// ellipsis; a failed one is red.
func Exchange(n int, question, answer string, isError bool) {
	var a string
	switch {
	case isError:
		a = fmt.Sprintf("%s%sA%d%s %s%s%s", bold, brightRed, n, reset, red, answer, reset)
	case answer == "":
		a = fmt.Sprintf("%s%sA%d%s %s%s…%s", bold, dim, n, reset, dim, italic, reset)
	default:
		a = fmt.Sprintf("%s%sA%d%s %s", bold, brightGreen, n, reset, answer)
	}
	printf("\n  %s%sQ%d%s %s\n  %s\n", bold, brightCyan, n, reset, question, a)
}

// Prompt prints "label › " without a newline.
func Prompt(label string) {
	printf("%s%s%s ›%s ", bold, brightMagenta, label, reset)
}

// ── HTTP access log ─────────────────────────────────────────

var methodColors = map[string]string{
	"GET":     brightBlue,
	"POST":    brightGreen,
	"PUT":     brightYellow,
	"PATCH":   brightYellow,
	"DELETE":  brightRed,
	"OPTIONS": dim + white,
}

// LogRequest prints one access-log line for a served request.
func LogRequest(method, path string, status int, duration time.Duration, remote string) {
	mc, ok := methodColors[method]
	if !ok {
		mc = white
	}
	printf("  %s%s%-7s%s %s%-35s%s %s%s%d%s %s%s%s %s%s%s\n",
		bold, mc, method, reset,
		white, path, reset,
		bold, colorForStatus(status), status, reset,
		dim, formatDuration(duration), reset,
		dim+white, remote, reset,
	)
}

func colorForStatus(code int) string {
	switch {
	case code >= 500:
		return brightRed
	case code >= 400:
		return brightYellow
	case code >= 300:
		return brightCyan
	case code >= 200:
		return brightGreen
	}
	return white
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dμs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
