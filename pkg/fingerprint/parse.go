// Package fingerprint extracts code cells from notebook documents and computes
// exact and fuzzy digests for them.
package fingerprint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotANotebook is returned for documents that are valid JSON but carry no
// cell list in any known nbformat layout.
var ErrNotANotebook = errors.New("document has no cells")

type rawCell struct {
	CellType string          `json:"cell_type"`
	Source   json.RawMessage `json:"source"`
	Input    json.RawMessage `json:"input"` // nbformat 3
}

type rawNotebook struct {
	Cells      []rawCell `json:"cells"`
	Worksheets []struct {
		Cells []rawCell `json:"cells"`
	} `json:"worksheets"`
}

// CodeCells returns the bodies of the document's code cells in order.
// nbformat 4 keeps cells at the top level; nbformat 3 nests them in worksheets.
func CodeCells(doc []byte) ([]string, error) {
	return cellBodies(doc, func(cellType string) bool { return cellType == "code" })
}

// Text returns the source of every cell, code and prose alike, separated by
// blank lines. The search indexer uses it as the document body.
func Text(doc []byte) (string, error) {
	bodies, err := cellBodies(doc, func(cellType string) bool { return cellType != "raw" })
	if err != nil {
		return "", err
	}
	return strings.Join(bodies, "\n\n"), nil
}

func cellBodies(doc []byte, keep func(cellType string) bool) ([]string, error) {
	var nb rawNotebook
	dec := json.NewDecoder(bytes.NewReader(doc))
	if err := dec.Decode(&nb); err != nil {
		return nil, fmt.Errorf("decode notebook: %w", err)
	}

	cells := nb.Cells
	if cells == nil {
		if nb.Worksheets == nil {
			return nil, ErrNotANotebook
		}
		for _, ws := range nb.Worksheets {
			cells = append(cells, ws.Cells...)
		}
	}

	bodies := make([]string, 0, len(cells))
	for i, c := range cells {
		if !keep(c.CellType) {
			continue
		}
		raw := c.Source
		if len(raw) == 0 {
			raw = c.Input
		}
		body, err := decodeSource(raw)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", i, err)
		}
		bodies = append(bodies, body)
	}
	return bodies, nil
}

// decodeSource accepts the two encodings nbformat allows for multi-line
// strings: a single string or a list of lines.
func decodeSource(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err != nil {
		return "", fmt.Errorf("source is neither a string nor a list of strings")
	}
	return strings.Join(lines, ""), nil
}
