package main

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/c0deZ3R0/go-telemetry-kit/remotedata"
)

// wantJSON reports whether output should be machine readable. Piped output
// defaults to JSON.
func wantJSON() bool {
	return jsonOutput || !term.IsTerminal(int(os.Stdout.Fd()))
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult prints a flat key/value result as JSON or an aligned table.
func printResult(fields map[string]any) error {
	if wantJSON() {
		return outputJSON(fields)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%v\n", k, fields[k])
	}
	return w.Flush()
}

const maxDataColumn = 60

func printPayloads(payloads []remotedata.Payload) {
	if wantJSON() {
		if payloads == nil {
			payloads = []remotedata.Payload{}
		}
		_ = outputJSON(payloads)
		return
	}
	if len(payloads) == 0 {
		fmt.Println("No cached payloads")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tTIMESTAMP\tLOCALE\tDATA")
	for _, p := range payloads {
		data := string(p.Data)
		if len(data) > maxDataColumn {
			data = data[:maxDataColumn-3] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Type, p.Timestamp.Format(time.RFC3339), p.Metadata.Locale, data)
	}
	_ = w.Flush()
}
