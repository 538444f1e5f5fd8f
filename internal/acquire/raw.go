package acquire

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dbsmedya/pprload/internal/types"
)

// ReadRaw loads the raw CSV written by ExtractRaw.
func ReadRaw(path string) ([]types.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open raw file: %w", err)
	}
	defer f.Close()

	return DecodeRaw(f)
}

// DecodeRaw parses raw CSV content with a RawColumns header.
func DecodeRaw(r io.Reader) ([]types.RawRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(RawColumns)

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("raw file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read raw header: %w", err)
	}
	for i, col := range RawColumns {
		if header[i] != col {
			return nil, fmt.Errorf("unexpected raw column %d: got %q, want %q", i, header[i], col)
		}
	}

	var records []types.RawRecord
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read raw row %d: %w", len(records)+1, err)
		}
		records = append(records, types.RawRecord{
			DateOfSale:  row[0],
			Address:     row[1],
			PostalCode:  row[2],
			County:      row[3],
			Price:       row[4],
			Description: row[5],
		})
	}
	return records, nil
}
