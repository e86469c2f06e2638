package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// ── Unified output helpers ────────────────────────────────────────────────────
// Every command prints through these so icons and indentation stay the same
// across skillmatch's output. stdout is swapped out by tests.
//
// Icon semantics:
//   ✓  success / healthy
//   ✗  error / failure          (written to stderr)
//   ⚠  warning
//   ○  skipped / not applicable
//   -  not found / missing
//   ~  neutral info / state change

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// printSection prints a top-level section header, e.g. "=== Matches ===".
func printSection(title string) {
	fmt.Fprintf(stdout, "\n=== %s ===\n", title)
}

// printBullet prints a grouped-section bullet, e.g. "● Suggested triggers:".
func printBullet(title string) {
	fmt.Fprintf(stdout, "\n● %s\n", title)
}

// printLine prints an icon line.
//   name = "" → "  ✓  msg"
//   name set  → "  ✓  [name] msg"
func printLine(w io.Writer, icon, name, msg string) {
	if name == "" {
		fmt.Fprintf(w, "  %s  %s\n", icon, msg)
	} else {
		fmt.Fprintf(w, "  %s  [%s] %s\n", icon, name, msg)
	}
}

func printOK(name, msg string)   { printLine(stdout, "✓", name, msg) }
func printErr(name, msg string)  { printLine(stderr, "✗", name, msg) }
func printWarn(name, msg string) { printLine(stdout, "⚠", name, msg) }
func printSkip(name, msg string) { printLine(stdout, "○", name, msg) }
func printMiss(name, msg string) { printLine(stdout, "-", name, msg) }
func printInfo(name, msg string) { printLine(stdout, "~", name, msg) }

// printJSON writes v as indented JSON. Used by every command's --json mode.
func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
