package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/snarg/transcript-sync/internal/segment"
)

// readDocument decodes a transcript document from path, or stdin for "-".
func readDocument(path string, stdin io.Reader) (*segment.Document, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	doc, err := segment.DecodeDocument(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
