package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/provider-verify/internal/model"
)

// Upload is the normalized content of one upload file.
type Upload struct {
	Providers []model.Provider
	Malformed []*MalformedRecordError
	// Rows counts data rows read, malformed ones included.
	Rows int
}

// Row is one raw data row and its 1-based line number.
type Row struct {
	Line   int
	Fields []string
}

// StreamCSV reads CSV rows onto a channel. The first row is the header and
// is sent like any other row. Both channels are closed when reading ends;
// at most one error is sent.
func StreamCSV(ctx context.Context, r io.Reader) (<-chan Row, <-chan error) {
	rowCh := make(chan Row, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1
		reader.LazyQuotes = true

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "ingest: csv canceled")
				return
			}
			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "ingest: read csv row")
				return
			}
			line, _ := reader.FieldPos(0)
			select {
			case rowCh <- Row{Line: line, Fields: record}:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "ingest: csv canceled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// ReadCSV reads and normalizes a CSV upload.
func ReadCSV(ctx context.Context, r io.Reader) (*Upload, error) {
	rowCh, errCh := StreamCSV(ctx, r)
	b := &builder{}
	for row := range rowCh {
		if err := b.add(row); err != nil {
			// Drain so the reader goroutine exits.
			for range rowCh {
			}
			return nil, err
		}
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return b.finish()
}

// ReadXLSX reads and normalizes the first sheet of an XLSX upload.
func ReadXLSX(ctx context.Context, path string) (*Upload, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open xlsx %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("ingest: xlsx %s has no sheets", path)
	}

	b := &builder{}
	for i, row := range f.Sheets[0].Rows {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "ingest: xlsx canceled")
		}
		if row == nil {
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		if err := b.add(Row{Line: i + 1, Fields: cells}); err != nil {
			return nil, err
		}
	}
	return b.finish()
}

// ReadFile dispatches on the file extension: .xlsx files go to ReadXLSX,
// everything else is read as CSV.
func ReadFile(ctx context.Context, path string) (*Upload, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return ReadXLSX(ctx, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return ReadCSV(ctx, f)
}

// builder accumulates normalized rows. The first non-blank row is the
// header.
type builder struct {
	header Header
	seen   map[string]int
	up     Upload
}

func (b *builder) add(row Row) error {
	if blank(row.Fields) {
		return nil
	}
	if b.header == nil {
		h, err := ParseHeader(row.Fields)
		if err != nil {
			return err
		}
		b.header = h
		b.seen = make(map[string]int)
		return nil
	}

	b.up.Rows++
	p, err := b.header.Normalize(row.Line, row.Fields)
	if err == nil {
		if first, dup := b.seen[p.NPI]; dup {
			err = &MalformedRecordError{Line: row.Line, NPI: p.NPI, Reason: fmt.Sprintf("duplicate npi, first seen on line %d", first)}
		}
	}
	if err != nil {
		var mre *MalformedRecordError
		if !errors.As(err, &mre) {
			return err
		}
		zap.L().Warn("ingest: dropping malformed record",
			zap.Int("line", mre.Line),
			zap.String("npi", mre.NPI),
			zap.String("reason", mre.Reason),
		)
		b.up.Malformed = append(b.up.Malformed, mre)
		return nil
	}
	b.seen[p.NPI] = row.Line
	b.up.Providers = append(b.up.Providers, p)
	return nil
}

func (b *builder) finish() (*Upload, error) {
	if b.header == nil {
		return nil, eris.Wrap(ErrMissingColumns, "ingest: upload has no header row")
	}
	return &b.up, nil
}

func blank(fields []string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
