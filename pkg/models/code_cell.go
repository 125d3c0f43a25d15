package models

// CodeCell is the fingerprint of one code cell. CellNumber is contiguous from 0
// within a notebook.
type CodeCell struct {
	NotebookID  int64  `json:"-"`
	CellNumber  int    `json:"cell_number"`
	Digest      string `json:"digest"`
	FuzzyDigest string `json:"fuzzy_digest"`
}
