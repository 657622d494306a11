package store

import (
	"encoding/csv"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

// Format is the on-disk encoding of an artifact.
type Format string

const (
	// Gob keeps the name→table nesting and round-trips exactly.
	Gob  Format = "gob"
	JSON Format = "json"
	// CSV holds a single table; only single-table artifacts can use it.
	CSV Format = "csv"
)

// Ext is the file extension for the format.
func (f Format) Ext() string { return string(f) }

func (f Format) valid() bool {
	switch f {
	case Gob, JSON, CSV:
		return true
	}
	return false
}

func encodeTables(w io.Writer, format Format, tables map[string]Table) error {
	switch format {
	case Gob:
		return gob.NewEncoder(w).Encode(tables)
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(tables)
	case CSV:
		if len(tables) != 1 {
			return fmt.Errorf("csv holds one table, got %d", len(tables))
		}
		for _, t := range tables {
			cw := csv.NewWriter(w)
			if err := cw.Write(t.Columns); err != nil {
				return err
			}
			if err := cw.WriteAll(t.Rows); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unsupported format %q", format)
}

// decodeTables reads an artifact. name labels the single table of a CSV file.
func decodeTables(r io.Reader, format Format, name string) (map[string]Table, error) {
	switch format {
	case Gob:
		var tables map[string]Table
		if err := gob.NewDecoder(r).Decode(&tables); err != nil {
			return nil, err
		}
		return tables, nil
	case JSON:
		var tables map[string]Table
		if err := json.NewDecoder(r).Decode(&tables); err != nil {
			return nil, err
		}
		return tables, nil
	case CSV:
		records, err := csv.NewReader(r).ReadAll()
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, fmt.Errorf("csv: missing header")
		}
		return map[string]Table{name: {Columns: records[0], Rows: records[1:]}}, nil
	}
	return nil, fmt.Errorf("unsupported format %q", format)
}

func tableNames(tables map[string]Table) []string {
	names := make([]string, 0, len(tables))
	for n := range tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
