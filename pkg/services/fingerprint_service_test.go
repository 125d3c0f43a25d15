package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-gallery/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
)

const twoCellNotebook = `{
  "nbformat": 4,
  "cells": [
    {"cell_type": "markdown", "source": "# Title"},
    {"cell_type": "code", "source": ["import pandas as pd\n", "df = pd.read_csv('x.csv')"]},
    {"cell_type": "code", "source": "df.plot()"}
  ]
}`

const otherNotebook = `{
  "nbformat": 4,
  "cells": [
    {"cell_type": "code", "source": "df.plot()"},
    {"cell_type": "code", "source": "print('something entirely different')"}
  ]
}`

type fingerprintFixture struct {
	svc       FingerprintService
	notebooks *mockNotebookRepo
	cells     *mockCodeCellRepo
	similar   *mockSimilarityRepo
	index     *mockSearchIndex
}

func newFingerprintFixture() *fingerprintFixture {
	f := &fingerprintFixture{
		notebooks: newMockNotebookRepo(),
		cells:     newMockCodeCellRepo(),
		index:     newMockSearchIndex(),
	}
	f.notebooks.cells = f.cells
	f.similar = &mockSimilarityRepo{edges: make(map[int64][]models.Similarity), notebooks: f.notebooks}
	indexer := NewIndexService(noScope, f.notebooks, newMockSummaryRepo(), f.index, zap.NewNop())
	f.svc = NewFingerprintService(noScope, f.notebooks, f.cells, f.similar, indexer, 4, zap.NewNop())
	return f
}

func TestFingerprintService_Rehash(t *testing.T) {
	f := newFingerprintFixture()
	f.notebooks.add(&models.Notebook{ID: 1, Title: "Pandas"}, twoCellNotebook)

	cells, err := f.svc.Rehash(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, cells, 2)
	for i, c := range cells {
		assert.Equal(t, i, c.CellNumber)
		assert.Equal(t, int64(1), c.NotebookID)
		assert.Len(t, c.Digest, 64)
		assert.NotEmpty(t, c.FuzzyDigest)
	}
	assert.Equal(t, cells, f.cells.cells[1])
}

func TestFingerprintService_Rehash_ParseFailureKeepsPreviousSet(t *testing.T) {
	f := newFingerprintFixture()
	f.notebooks.add(&models.Notebook{ID: 1}, twoCellNotebook)
	previous, err := f.svc.Rehash(context.Background(), 1)
	require.NoError(t, err)

	f.notebooks.content[1] = []byte(`{"not": "a notebook"`)
	_, err = f.svc.Rehash(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrFingerprintFailure))
	assert.Equal(t, previous, f.cells.cells[1])
	assert.Equal(t, 1, f.cells.replaces)
}

func TestFingerprintService_Rehash_WriteFailureKeepsPreviousSet(t *testing.T) {
	f := newFingerprintFixture()
	f.notebooks.add(&models.Notebook{ID: 1}, twoCellNotebook)
	previous, err := f.svc.Rehash(context.Background(), 1)
	require.NoError(t, err)

	f.notebooks.content[1] = []byte(otherNotebook)
	f.cells.replaceErr = errors.New("serialization failure")
	_, err = f.svc.Rehash(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, previous, f.cells.cells[1])
}

func TestFingerprintService_ContentChanged(t *testing.T) {
	f := newFingerprintFixture()
	f.notebooks.add(&models.Notebook{ID: 2, Title: "Plots"}, twoCellNotebook)

	cells, err := f.svc.ContentChanged(context.Background(), 2, []byte(otherNotebook))
	require.NoError(t, err)
	require.Len(t, cells, 2)
	assert.Equal(t, otherNotebook, string(f.notebooks.content[2]))
	assert.False(t, f.notebooks.notebooks[2].ContentUpdatedAt.IsZero())
	assert.Equal(t, cells, f.cells.cells[2])

	doc, ok := f.index.docs[2]
	require.True(t, ok, "notebook should be reindexed")
	assert.Contains(t, doc.Body, "something entirely different")
}

func TestFingerprintService_ContentChanged_UnparseableWritesNothing(t *testing.T) {
	f := newFingerprintFixture()
	f.notebooks.add(&models.Notebook{ID: 2}, twoCellNotebook)

	_, err := f.svc.ContentChanged(context.Background(), 2, []byte("<html>"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrFingerprintFailure))
	assert.Equal(t, 0, f.notebooks.updateCalls)
	assert.Equal(t, 0, f.cells.replaces)
	assert.Equal(t, twoCellNotebook, string(f.notebooks.content[2]))
}

func TestFingerprintService_ContentChanged_CellWriteFailureKeepsDocument(t *testing.T) {
	f := newFingerprintFixture()
	f.notebooks.add(&models.Notebook{ID: 2}, twoCellNotebook)
	previous, err := f.svc.Rehash(context.Background(), 2)
	require.NoError(t, err)

	f.cells.replaceErr = errors.New("serialization failure")
	_, err = f.svc.ContentChanged(context.Background(), 2, []byte(otherNotebook))
	require.Error(t, err)
	assert.Equal(t, twoCellNotebook, string(f.notebooks.content[2]))
	assert.True(t, f.notebooks.notebooks[2].ContentUpdatedAt.IsZero())
	assert.Equal(t, previous, f.cells.cells[2])
	_, reindexed := f.index.docs[2]
	assert.False(t, reindexed)
}

func TestFingerprintService_CompareNotebooks(t *testing.T) {
	f := newFingerprintFixture()
	f.notebooks.add(&models.Notebook{ID: 1}, twoCellNotebook)
	f.notebooks.add(&models.Notebook{ID: 2}, otherNotebook)
	ctx := context.Background()
	_, err := f.svc.Rehash(ctx, 1)
	require.NoError(t, err)
	_, err = f.svc.Rehash(ctx, 2)
	require.NoError(t, err)

	matches, err := f.svc.CompareNotebooks(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, CellMatch{CellA: 1, CellB: 0, Distance: 0, Exact: true}, matches[0])
}

func TestFingerprintService_LinkSimilar(t *testing.T) {
	f := newFingerprintFixture()
	f.notebooks.add(&models.Notebook{ID: 1}, twoCellNotebook)
	f.notebooks.add(&models.Notebook{ID: 2}, otherNotebook)
	f.notebooks.add(&models.Notebook{ID: 3}, `{"cells": [{"cell_type": "code", "source": "unrelated()"}]}`)
	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		_, err := f.svc.Rehash(ctx, id)
		require.NoError(t, err)
	}
	f.similar.edges[1] = []models.Similarity{{NotebookID: 1, OtherNotebookID: 3, Score: 0.9}}

	edges, err := f.svc.LinkSimilar(ctx, 1)
	require.NoError(t, err)
	want := []models.Similarity{{NotebookID: 1, OtherNotebookID: 2, Score: 0.5}}
	assert.Equal(t, want, edges)
	assert.Equal(t, want, f.similar.edges[1], "stale edges are replaced")

	edges, err = f.svc.LinkSimilar(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, edges)
	assert.Empty(t, f.similar.edges[3])
}

func TestFingerprintService_LinkSimilar_NoCellsClearsEdges(t *testing.T) {
	f := newFingerprintFixture()
	f.similar.edges[4] = []models.Similarity{{NotebookID: 4, OtherNotebookID: 1, Score: 1}}

	edges, err := f.svc.LinkSimilar(context.Background(), 4)
	require.NoError(t, err)
	assert.Empty(t, edges)
	assert.Empty(t, f.similar.edges[4])
}
