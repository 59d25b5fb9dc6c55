// Package output provides utilities for consistent CLI output formatting.
package output

import (
	"encoding/json"
	"io"
	"os"

	"golang.org/x/term"
)

// IsTTY returns true if stdout is connected to a terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// MarshalJSON marshals v to JSON, pretty-printed when stdout is a terminal
// and compact otherwise.
func MarshalJSON(v any) ([]byte, error) {
	return MarshalJSONPretty(v, IsTTY())
}

// MarshalJSONPretty marshals v to JSON with explicit formatting control.
func MarshalJSONPretty(v any, pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

// WriteJSON writes v followed by a newline.
func WriteJSON(w io.Writer, v any, pretty bool) error {
	data, err := MarshalJSONPretty(v, pretty)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}
