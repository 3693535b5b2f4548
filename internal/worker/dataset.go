package worker

import (
	"encoding/csv"
	"fmt"
	"io"
)

// Dataset is a fully materialized table: a header plus string-typed rows.
// Sources deliver CSV; sinks and exporters consume this shape.
type Dataset struct {
	Columns []string
	Rows    [][]string
}

// Empty reports whether the dataset carries no rows.
func (d Dataset) Empty() bool {
	return len(d.Rows) == 0
}

// ParseCSV reads an entire CSV stream into a Dataset. The first record is
// the header. Ragged rows fail rather than being padded.
func ParseCSV(r io.Reader) (Dataset, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return Dataset{}, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return Dataset{}, nil
	}
	return Dataset{Columns: records[0], Rows: records[1:]}, nil
}

// WriteCSV streams the dataset as CSV, header first.
func (d Dataset) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(d.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range d.Rows {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
