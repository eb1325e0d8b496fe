package display

import (
	"fmt"
	"io"
	"strings"
)

// ANSI color codes
const (
	reset   = "\033[0m"
	bold    = "\033[1m"
	dim     = "\033[2m"
	italic  = "\033[3m"

	red     = "\033[31m"
	green   = "\033[32m"
	yellow  = "\033[33m"
	blue    = "\033[34m"
	magenta = "\033[35m"
	cyan    = "\033[36m"
	white   = "\033[37m"

	brightRed     = "\033[91m"
	brightGreen   = "\033[92m"
	brightYellow  = "\033[93m"
	brightBlue    = "\033[94m"
	brightMagenta = "\033[95m"
	brightCyan    = "\033[96m"
	brightWhite   = "\033[97m"

	bgBlue    = "\033[44m"
	bgMagenta = "\033[45m"
	bgCyan    = "\033[46m"
)

// ServerInfo holds all the information to display in the startup banner.
type ServerInfo struct {
	Version string

	// Completion provider
	Provider   string
	Model      string
	BaseURL    string
	KeyPresent bool

	// Limits
	MaxUploadBytes int64
	MaxSessions    int
	ChatRateLimit  float64

	Port int
}

// PrintBanner prints the startup banner with server settings and endpoints.
func PrintBanner(info ServerInfo) {
	outMu.Lock()
	defer outMu.Unlock()
	w := out

	host := fmt.Sprintf("http://localhost:%d", info.Port)

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s%s📄 docuquery server%s", bold, brightCyan, reset)
	if info.Version != "" {
		fmt.Fprintf(w, " %s%s%s", dim, info.Version, reset)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s%s%s%s\n", dim, cyan, rule, reset)
	fmt.Fprintln(w)

	printSectionHeader(w, "🤖 Completion")
	printKV(w, "Provider", info.Provider, brightWhite)
	printKV(w, "Model", info.Model, brightMagenta)
	printKV(w, "Endpoint", maskURL(info.BaseURL), dim+white)
	if info.KeyPresent {
		printKVColored(w, "API Key", "✓ configured", brightGreen)
	} else {
		printKVColored(w, "API Key", "✗ missing (set API_KEY)", brightRed)
	}
	fmt.Fprintln(w)

	printSectionHeader(w, "⚙️  Limits")
	printKVColored(w, "Max Upload", formatBytes(info.MaxUploadBytes), brightYellow)
	printKVColored(w, "Max Sessions", formatCount(info.MaxSessions), brightYellow)
	if info.ChatRateLimit > 0 {
		printKVColored(w, "Chat Rate", fmt.Sprintf("%.1f req/s", info.ChatRateLimit), brightYellow)
	} else {
		printKVColored(w, "Chat Rate", "unlimited", dim+white)
	}
	fmt.Fprintln(w)

	printSectionHeader(w, "🌐 Endpoints")
	printEndpoint(w, "Chat  ", "POST", host+"/api/chat", brightBlue)
	printEndpoint(w, "Session", "POST", host+"/api/sessions", brightMagenta)
	printEndpoint(w, "MCP   ", "POST", host+"/mcp", brightCyan)
	printEndpoint(w, "Health", "GET ", host+"/health", green)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  %s%s%s%s\n", dim, cyan, rule, reset)
	fmt.Fprintf(w, "  %s%s🚀 Server listening on %s%s%s%s\n", dim, white, reset, bold+brightGreen, host, reset)
	fmt.Fprintf(w, "  %s%s%s%s\n", dim, cyan, rule, reset)
	fmt.Fprintln(w)
}

func printSectionHeader(w io.Writer, title string) {
	fmt.Fprintf(w, "  %s%s%s%s\n", bold, brightYellow, title, reset)
}

func printKV(w io.Writer, key, value, valueColor string) {
	paddedKey := padRight(key, 18)
	fmt.Fprintf(w, "    %s%s%s  %s%s%s\n", dim, paddedKey, reset, valueColor, value, reset)
}

func printKVColored(w io.Writer, key, value, valueColor string) {
	paddedKey := padRight(key, 18)
	fmt.Fprintf(w, "    %s%s%s  %s%s%s%s\n", dim, paddedKey, reset, bold, valueColor, value, reset)
}

func printEndpoint(w io.Writer, label, method, url, color string) {
	paddedLabel := padRight(label, 8)
	fmt.Fprintf(w, "    %s%s%s %s%s%-5s%s %s%s%s\n",
		dim, paddedLabel, reset,
		bold, brightWhite, method, reset,
		color, url, reset,
	)
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}

func formatCount(n int) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%d (%0.1fM)", n, float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%d (%0.1fK)", n, float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// formatBytes renders a byte size in the largest whole binary unit.
func formatBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// maskURL trims a URL for compact display.
func maskURL(rawURL string) string {
	if rawURL == "" {
		return "(provider default)"
	}
	// Keep URL as is but trim trailing slash
	return strings.TrimRight(rawURL, "/")
}
