package models

import (
	"fmt"
	"math"
)

// PackedResult is the stored result of a completed job. Arrays are row-major over
// ascending query ids by ascending reference ids, in integer hundredths.
type PackedResult struct {
	JobID int64
	ANI   []*int32
	AFQry []*int32
	AFRef []*int32
}

// CheckShape verifies the packed arrays match a rows x cols matrix.
func (p *PackedResult) CheckShape(rows, cols int) error {
	want := rows * cols
	if len(p.ANI) != want || len(p.AFQry) != want || len(p.AFRef) != want {
		return fmt.Errorf("packed result has lengths %d/%d/%d, expected %d (%dx%d)",
			len(p.ANI), len(p.AFQry), len(p.AFRef), want, rows, cols)
	}
	return nil
}

// Matrix is a dense rows x cols matrix of nullable percentages.
type Matrix [][]*float64

// NewMatrix allocates a rows x cols matrix of nil cells.
func NewMatrix(rows, cols int) Matrix {
	m := make(Matrix, rows)
	for i := range m {
		m[i] = make([]*float64, cols)
	}
	return m
}

// Unpack reshapes a packed array into a rows x cols matrix of percentages.
func Unpack(packed []*int32, rows, cols int) Matrix {
	m := NewMatrix(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if v := packed[i*cols+j]; v != nil {
				f := float64(*v) / 100
				m[i][j] = &f
			}
		}
	}
	return m
}

// Value returns the cell value with nil as zero.
func (m Matrix) Value(i, j int) float64 {
	if m[i][j] == nil {
		return 0
	}
	return *m[i][j]
}

// GenomeLabel is an axis entry of a result matrix.
type GenomeLabel struct {
	ID        int64
	Name      string
	Accession *string
}

// ResultMatrix is a reshaped job result.
type ResultMatrix struct {
	JobName    string
	Mode       CalcMode
	Completed  bool
	Error      *bool
	Queries    []GenomeLabel
	References []GenomeLabel
	ANI        Matrix
	AFQry      Matrix
	AFRef      Matrix
}

// TableOptions control the tabular projection.
type TableOptions struct {
	DropSelf    bool
	DropZero    bool
	NullsAsZero bool
}

// TableRow is one (query, reference) comparison.
type TableRow struct {
	Qry   string   `json:"qry"`
	Ref   string   `json:"ref"`
	ANI   *float64 `json:"ani"`
	AFQry *float64 `json:"afQry"`
	AFRef *float64 `json:"afRef"`
}

// TableResult is the tabular projection of a job.
type TableResult struct {
	JobID     string     `json:"jobId"`
	Completed bool       `json:"completed"`
	Error     *bool      `json:"error"`
	Rows      []TableRow `json:"rows"`
}

// Round2 rounds to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
