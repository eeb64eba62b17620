package index

import (
	"container/heap"
	"context"

	ragerrors "github.com/Aman-CERP/ragscraper/internal/errors"
)

// Search returns the min(k, Count()) rows with the highest inner product
// against query, by descending score with ties broken by ascending row.
//
// The state is snapshotted under the read lock and scored without it, so
// a concurrent Add or Rebuild never blocks a search and a search never
// observes an identifier without its row.
func (ix *Index) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, ragerrors.ValidationError("k must be positive", nil)
	}

	ix.mu.RLock()
	n := len(ix.ids)
	dim := ix.dim
	ids := ix.ids[:n:n]
	matrix := ix.matrix[: n*dim : n*dim]
	ix.mu.RUnlock()

	if n == 0 {
		return nil, ragerrors.New(ragerrors.ErrCodeIndexEmpty, "index is empty", nil).
			WithSuggestion("wait for the embed stage to index documents, or run 'ragscraper rebuild'")
	}
	if len(query) != dim {
		return nil, ragerrors.DimensionMismatch(dim, len(query))
	}

	k = min(k, n)
	h := make(topK, 0, k)
	for row := 0; row < n; row++ {
		if row%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		score := dot(query, matrix[row*dim:(row+1)*dim])
		if len(h) < k {
			heap.Push(&h, Result{Row: row, Score: score})
			continue
		}
		if better(Result{Row: row, Score: score}, h[0]) {
			h[0] = Result{Row: row, Score: score}
			heap.Fix(&h, 0)
		}
	}

	out := make([]Result, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		r := heap.Pop(&h).(Result)
		r.ID = ids[r.Row]
		out[i] = r
	}
	return out, nil
}

func dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// better orders results: higher score first, then lower row.
func better(a, b Result) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Row < b.Row
}

// topK is a min-heap on result quality; the root is the worst kept result.
type topK []Result

func (h topK) Len() int           { return len(h) }
func (h topK) Less(i, j int) bool { return better(h[j], h[i]) }
func (h topK) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *topK) Push(x any)        { *h = append(*h, x.(Result)) }
func (h *topK) Pop() any {
	old := *h
	r := old[len(old)-1]
	*h = old[:len(old)-1]
	return r
}
