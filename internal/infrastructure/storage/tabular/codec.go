// Package tabular reads input tables and writes annotated output tables in
// tab-separated form, from local files or object storage.
package tabular

import (
	"encoding/csv"
	stdliberrors "errors"
	"io"
	"slices"
	"strings"

	"github.com/turtacn/subsim/pkg/errors"
	mtypes "github.com/turtacn/subsim/pkg/types/molecule"
)

// DefaultOutputName is the annotated table written when only a directory is
// given.
const DefaultOutputName = "substructure_annotations.tsv"

// Column names.
const (
	ColumnID       = "id"
	ColumnName     = "name"
	ColumnNotation = "notation"
	ColumnMatches  = "matches"
)

// notationAliases are accepted in place of the notation header.
var notationAliases = []string{ColumnNotation, "smiles"}

// ReadRecords decodes a header-led TSV table.  The id and notation columns
// are required; name is optional.  Column order is free and header matching
// ignores case.
func ReadRecords(r io.Reader) ([]mtypes.Record, error) {
	rows, err := decode(r, false)
	if err != nil {
		return nil, err
	}
	records := make([]mtypes.Record, len(rows))
	for i, row := range rows {
		records[i] = row.Record
	}
	return records, nil
}

// ReadAnnotated decodes a table written by WriteAnnotated.  The matches
// column is required in addition to the ReadRecords columns.
func ReadAnnotated(r io.Reader) ([]mtypes.AnnotatedRecord, error) {
	return decode(r, true)
}

func decode(r io.Reader, withMatches bool) ([]mtypes.AnnotatedRecord, error) {
	cr := newReader(r)
	header, err := cr.Read()
	if stdliberrors.Is(err, io.EOF) {
		return nil, errors.New(errors.ErrCodeTableFormat, "table is empty")
	}
	if err != nil {
		return nil, tableError(err)
	}

	idCol, nameCol, notationCol, matchesCol := -1, -1, -1, -1
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		switch {
		case h == ColumnID:
			idCol = i
		case h == ColumnName:
			nameCol = i
		case h == ColumnMatches:
			matchesCol = i
		case slices.Contains(notationAliases, h):
			if notationCol < 0 {
				notationCol = i
			}
		}
	}
	if idCol < 0 || notationCol < 0 {
		return nil, errors.New(errors.ErrCodeTableFormat, "missing required column").
			WithDetailf("need %q and %q, got %v", ColumnID, ColumnNotation, header)
	}
	if withMatches && matchesCol < 0 {
		return nil, errors.New(errors.ErrCodeTableFormat, "missing required column").
			WithDetailf("need %q, got %v", ColumnMatches, header)
	}

	rows := []mtypes.AnnotatedRecord{}
	for {
		row, err := cr.Read()
		if stdliberrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, tableError(err)
		}
		line, _ := cr.FieldPos(0)
		if idCol >= len(row) || notationCol >= len(row) {
			return nil, errors.New(errors.ErrCodeTableFormat, "row has too few columns").
				WithDetailf("line=%d columns=%d", line, len(row))
		}
		rec := mtypes.AnnotatedRecord{Record: mtypes.Record{
			ID:       strings.TrimSpace(row[idCol]),
			Notation: strings.TrimSpace(row[notationCol]),
		}}
		if nameCol >= 0 && nameCol < len(row) {
			rec.Name = strings.TrimSpace(row[nameCol])
		}
		if rec.ID == "" {
			return nil, errors.New(errors.ErrCodeTableFormat, "row without id").WithDetailf("line=%d", line)
		}
		if withMatches {
			rec.Matches = []string{}
			if matchesCol < len(row) {
				rec.Matches = mtypes.ParseMatchesColumn(row[matchesCol])
			}
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

// WriteAnnotated encodes records with a trailing matches column.
func WriteAnnotated(w io.Writer, records []mtypes.AnnotatedRecord) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write([]string{ColumnID, ColumnName, ColumnNotation, ColumnMatches}); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageFailed, "failed to write table header")
	}
	for _, rec := range records {
		if err := cw.Write([]string{rec.ID, rec.Name, rec.Notation, rec.MatchesColumn()}); err != nil {
			return errors.Wrap(err, errors.ErrCodeStorageFailed, "failed to write table row").WithDetail(rec.ID)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorageFailed, "failed to flush table")
	}
	return nil
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

func tableError(err error) error {
	var pe *csv.ParseError
	if stdliberrors.As(err, &pe) {
		return errors.Wrap(err, errors.ErrCodeTableFormat, "malformed table").WithDetailf("line=%d", pe.Line)
	}
	return errors.Wrap(err, errors.ErrCodeStorageFailed, "failed to read table")
}
