package output

import (
	"fmt"
	"os"

	"github.com/gocarina/gocsv"

	"thermoevo/internal/epistasis"
)

// ScanRow is one line of an epistasis scan CSV.
type ScanRow struct {
	Potential float64 `csv:"potential"`
	WT        float64 `csv:"wt"`
	SingleA   float64 `csv:"single_a"`
	SingleB   float64 `csv:"single_b"`
	Double    float64 `csv:"double"`
	Epistasis float64 `csv:"epistasis"`
}

// ScanRows flattens a scan into CSV rows, one per titration point.
func ScanRows(scan *epistasis.Scan) []ScanRow {
	rows := make([]ScanRow, len(scan.Values))
	for i := range scan.Values {
		rows[i] = ScanRow{
			Potential: scan.Values[i],
			WT:        scan.WT[i],
			SingleA:   scan.A[i],
			SingleB:   scan.B[i],
			Double:    scan.AB[i],
			Epistasis: scan.Ep[i],
		}
	}
	return rows
}

// WriteScanCSV writes a scan to path. Unlike run artifacts, scans are
// single files and need no staging directory.
func WriteScanCSV(path string, scan *epistasis.Scan) error {
	if scan == nil {
		return fmt.Errorf("scan is required")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	rows := ScanRows(scan)
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
