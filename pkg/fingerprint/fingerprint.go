package fingerprint

import "github.com/ekaya-inc/ekaya-gallery/pkg/models"

// Cells parses a notebook document and fingerprints every code cell.
// Cell numbers are assigned contiguously from 0 in document order.
func Cells(notebookID int64, doc []byte) ([]models.CodeCell, error) {
	bodies, err := CodeCells(doc)
	if err != nil {
		return nil, err
	}
	cells := make([]models.CodeCell, len(bodies))
	for i, body := range bodies {
		cells[i] = models.CodeCell{
			NotebookID:  notebookID,
			CellNumber:  i,
			Digest:      ExactDigest(body),
			FuzzyDigest: FuzzyDigest(body),
		}
	}
	return cells, nil
}
