package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

type formatter struct {
	format string
	w      io.Writer
}

// emit writes data as indented JSON, or the text line for text output.
func (f *formatter) emit(data any, text string, args ...any) error {
	if f.format == "json" {
		enc := json.NewEncoder(f.w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	_, err := fmt.Fprintf(f.w, text+"\n", args...)
	return err
}
