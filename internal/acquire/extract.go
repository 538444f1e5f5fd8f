package acquire

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// sourceColumns maps the published header (text before any parenthesised
// unit) to the raw CSV column it is written as.
var sourceColumns = map[string]string{
	"date of sale":            "date_of_sale",
	"address":                 "address",
	"postal code":             "postal_code",
	"county":                  "county",
	"price":                   "price",
	"description of property": "description",
}

// RawColumns is the header of the extracted raw CSV.
var RawColumns = []string{"date_of_sale", "address", "postal_code", "county", "price", "description"}

// ExtractRaw writes today's raw CSV from the archive and returns its path.
// An existing raw file is reused as is.
func (a *Acquirer) ExtractRaw(ctx context.Context, archive string) (string, error) {
	dest := a.RawPath()
	if _, err := os.Stat(dest); err == nil {
		a.log.Infow("Raw file already exists, skipping extraction", "path", dest)
		return dest, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create raw directory: %w", err)
	}

	a.log.Infow("Saving raw data", "archive", archive, "path", dest)

	zr, err := zip.OpenReader(archive)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	if len(zr.File) == 0 {
		return "", fmt.Errorf("archive %s is empty", archive)
	}

	member, err := zr.File[0].Open()
	if err != nil {
		return "", fmt.Errorf("open archive member %s: %w", zr.File[0].Name, err)
	}
	defer member.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), rawName+".*.part")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	rows, err := a.convert(ctx, member, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", err
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("move raw file into place: %w", err)
	}

	a.log.Infow("Raw data saved", "rows", rows)
	return dest, nil
}

// convert decodes the windows-1252 register CSV from r, keeps the six
// retained columns and writes them as UTF-8 to w.
func (a *Acquirer) convert(ctx context.Context, r io.Reader, w io.Writer) (int, error) {
	reader := csv.NewReader(transform.NewReader(r, charmap.Windows1252.NewDecoder()))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}

	index, err := columnIndex(header)
	if err != nil {
		return 0, err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(RawColumns); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	rows := 0
	out := make([]string, len(RawColumns))
	for a.cfg.RowLimit <= 0 || rows < a.cfg.RowLimit {
		if rows%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return rows, err
			}
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("read row %d: %w", rows+1, err)
		}

		for i, col := range index {
			if col < len(record) {
				out[i] = record[col]
			} else {
				out[i] = ""
			}
		}
		if err := writer.Write(out); err != nil {
			return rows, fmt.Errorf("write row %d: %w", rows+1, err)
		}
		rows++
	}

	writer.Flush()
	return rows, writer.Error()
}

// columnIndex returns, for every RawColumns entry, its position in header.
func columnIndex(header []string) ([]int, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.TrimPrefix(h, "\ufeff")
		name = strings.TrimPrefix(name, "\u00ef\u00bb\u00bf") // UTF-8 BOM read as windows-1252
		if j := strings.Index(name, "("); j >= 0 {
			name = name[:j]
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if col, ok := sourceColumns[name]; ok {
			pos[col] = i
		}
	}

	index := make([]int, len(RawColumns))
	var missing []string
	for i, col := range RawColumns {
		p, ok := pos[col]
		if !ok {
			missing = append(missing, col)
			continue
		}
		index[i] = p
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("register header is missing columns: %s", strings.Join(missing, ", "))
	}
	return index, nil
}
