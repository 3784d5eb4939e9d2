package dataset

import (
	"fmt"

	"github.com/sbinet/npyio/npz"
)

// FromNPZ loads a table from an npz archive holding a float64 feature
// matrix of shape (rows, features) under xName and an integer label vector
// of shape (rows,) under yName. Label values index into classes. All
// columns are declared Continuous.
func FromNPZ(path, xName, yName string, classes []string) (*Table, error) {
	r, err := npz.Open(path)
	if err != nil {
		return nil, fmt.Errorf("while opening data file: %w", err)
	}
	defer r.Close()

	xHeader := r.Header(xName)
	if len(xHeader.Descr.Shape) != 2 {
		return nil, fmt.Errorf("%s has shape %v, want a matrix", xName, xHeader.Descr.Shape)
	}
	rows := xHeader.Descr.Shape[0]
	features := xHeader.Descr.Shape[1]

	var xRaw []float64
	if err := r.Read(xName, &xRaw); err != nil {
		return nil, fmt.Errorf("while reading %s: %w", xName, err)
	}

	var yRaw []int64
	if err := r.Read(yName, &yRaw); err != nil {
		return nil, fmt.Errorf("while reading %s: %w", yName, err)
	}
	if len(yRaw) != rows {
		return nil, fmt.Errorf("%s has %d labels for %d rows", yName, len(yRaw), rows)
	}

	// npy payloads are C-order (row-major); regroup into columns.
	cols := make([][]float64, features)
	for j := range cols {
		cols[j] = make([]float64, rows)
		for i := 0; i < rows; i++ {
			cols[j][i] = xRaw[i*features+j]
		}
	}

	labels := make([]string, rows)
	for i, y := range yRaw {
		if y < 0 || int(y) >= len(classes) {
			return nil, fmt.Errorf("label %d out of range for %d classes", y, len(classes))
		}
		labels[i] = classes[y]
	}

	kinds := make([]ColumnKind, features)

	return NewTable(cols, kinds, labels, classes)
}
