// Package dataset holds labeled, column-typed training data and the
// stratified per-class iteration the estimators consume.
package dataset

import (
	"errors"
	"fmt"
)

// ColumnKind declares how a feature column is valued.
type ColumnKind int

const (
	Continuous ColumnKind = iota
	Categorical
)

// ErrRagged is returned when columns or labels disagree on row count.
var ErrRagged = errors.New("columns and labels must have equal length")

// Table is a column-major labeled dataset. Columns and labels are not
// copied; callers must not mutate them after construction.
type Table struct {
	cols    [][]float64
	kinds   []ColumnKind
	labels  []string
	classes []string
}

// NewTable builds a table over the given columns. classes is the full set
// of possible labels in a fixed order; if nil, the distinct labels are
// collected in encounter order.
func NewTable(cols [][]float64, kinds []ColumnKind, labels []string, classes []string) (*Table, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("need at least one column")
	}
	if len(kinds) != len(cols) {
		return nil, fmt.Errorf("got %d column kinds for %d columns", len(kinds), len(cols))
	}
	for j, col := range cols {
		if len(col) != len(labels) {
			return nil, fmt.Errorf("column %d has %d values for %d labels: %w", j, len(col), len(labels), ErrRagged)
		}
	}

	if classes == nil {
		seen := map[string]bool{}
		for _, lab := range labels {
			if !seen[lab] {
				seen[lab] = true
				classes = append(classes, lab)
			}
		}
	}

	return &Table{
		cols:    cols,
		kinds:   kinds,
		labels:  labels,
		classes: classes,
	}, nil
}

func (t *Table) NumColumns() int { return len(t.cols) }

func (t *Table) NumRows() int { return len(t.labels) }

func (t *Table) Kind(j int) ColumnKind { return t.kinds[j] }

// Classes returns a copy of the full set of possible class labels, in
// declared order.
func (t *Table) Classes() []string {
	return append([]string(nil), t.classes...)
}

func (t *Table) Labels() []string { return t.labels }

func (t *Table) Column(j int) []float64 { return t.cols[j] }

// Row copies row i into a fresh sample slice.
func (t *Table) Row(i int) []float64 {
	out := make([]float64, len(t.cols))
	for j, col := range t.cols {
		out[j] = col[i]
	}
	return out
}

// Slice returns a view of rows [lo, hi) sharing storage with t. The class
// set is carried over unchanged.
func (t *Table) Slice(lo, hi int) *Table {
	if lo < 0 || hi > len(t.labels) || lo > hi {
		panic(fmt.Sprintf("slice [%d, %d) out of range for %d rows", lo, hi, len(t.labels)))
	}
	cols := make([][]float64, len(t.cols))
	for j := range t.cols {
		cols[j] = t.cols[j][lo:hi]
	}
	return &Table{
		cols:    cols,
		kinds:   t.kinds,
		labels:  t.labels[lo:hi],
		classes: t.classes,
	}
}

// ClassBatch is the slice of a table belonging to one class: per-column
// value sequences for every row carrying that label.
type ClassBatch struct {
	Class string
	Cols  [][]float64
}

// ByClass stratifies the table by label. Batches appear in the declared
// class order; classes with no rows in this table are omitted.
func (t *Table) ByClass() []ClassBatch {
	batches := []ClassBatch{}
	for _, class := range t.classes {
		cols := make([][]float64, len(t.cols))
		n := 0
		for i, lab := range t.labels {
			if lab != class {
				continue
			}
			for j := range t.cols {
				cols[j] = append(cols[j], t.cols[j][i])
			}
			n++
		}
		if n == 0 {
			continue
		}
		batches = append(batches, ClassBatch{Class: class, Cols: cols})
	}
	return batches
}
