package printer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/dyluth/dhtc/pkg/dht"
)

func init() {
	// Users can disable colour with the NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	// Stdout and Stderr are swapped out by tests
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr

	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(Stdout, msg)
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	fmt.Fprintf(Stdout, format, a...)
}

// Warning prints a warning message in yellow
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(Stderr, msg)
}

// Step prints a progress line for multi-step commands
func Step(format string, a ...any) {
	cyan.Fprintf(Stdout, "→ %s", fmt.Sprintf(format, a...))
}

// State prints a client state transition
func State(s dht.State) {
	switch s {
	case dht.Connected:
		green.Fprintf(Stdout, "● %s\n", s)
	case dht.Disconnected:
		faint.Fprintf(Stdout, "○ %s\n", s)
	default:
		cyan.Fprintf(Stdout, "◐ %s\n", s)
	}
}

// Hit prints one search result: the value digest followed by its metadata in key order
func Hit(n int, v dht.Value) {
	d, err := v.Digest()
	if err != nil {
		Warning("result %d: %v\n", n, err)
		return
	}
	fmt.Fprintf(Stdout, "%3d  %s\n", n, d)

	meta := v.Meta()
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		faint.Fprintf(Stdout, "     %s=%s\n", k, meta[k])
	}
}

// hitRecord is one search result in JSONL output
type hitRecord struct {
	Key    string       `json:"key"`
	Digest string       `json:"digest"`
	Meta   dht.Metadata `json:"meta,omitempty"`
}

// HitJSONL writes one search result as a single JSON line, for piping into jq
func HitJSONL(key dht.Key, v dht.Value) error {
	d, err := v.Digest()
	if err != nil {
		return err
	}
	data, err := json.Marshal(hitRecord{Key: key.String(), Digest: d.String(), Meta: v.Meta()})
	if err != nil {
		return fmt.Errorf("failed to marshal result to JSON: %w", err)
	}
	if _, err := fmt.Fprintf(Stdout, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write JSONL output: %w", err)
	}
	return nil
}

// Error prints a title, explanation and suggestions to stderr and returns an
// error carrying only the title, for Cobra (which runs with SilenceErrors).
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value details printed in key order
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	red.Fprintf(Stderr, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(Stderr, "%s\n", explanation)
	}

	if len(context) > 0 {
		fmt.Fprintf(Stderr, "\n")
		keys := make([]string, 0, len(context))
		for k := range context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(Stderr, "  %s: %s\n", k, context[k])
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(Stderr, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(Stderr, "\nEither:\n")
		for i, suggestion := range suggestions {
			fmt.Fprintf(Stderr, "  %d. %s\n", i+1, suggestion)
		}
	}

	return fmt.Errorf("%s", title)
}

// CallError renders a rejected client call with its state and reason
func CallError(op string, err error) error {
	var ce *dht.CallError
	if !errors.As(err, &ce) {
		return Error(fmt.Sprintf("%s failed", op), err.Error(), nil)
	}
	reason := ce.Reason
	if reason == "" && ce.Err != nil {
		reason = ce.Err.Error()
	}
	return ErrorWithContext(fmt.Sprintf("%s rejected", op), reason,
		map[string]string{"State": ce.State.String()}, nil)
}

// Failure renders a task failure reported through a notification
func Failure(op string, code int, reason string) error {
	return ErrorWithContext(fmt.Sprintf("%s failed", op), reason,
		map[string]string{"Code": dht.CodeText(code)}, failureHints(code))
}

func failureHints(code int) []string {
	switch code {
	case dht.CodeTimeout:
		return []string{"Check the bootstrap contact file and that seed nodes are reachable"}
	case dht.CodeNoPeers:
		return []string{"Wait for more peers to join, then store again"}
	default:
		return nil
	}
}
