// Package export renders normalized result sets as JSON or CSV documents.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rickchristie/sqlgate-mcp/internal/errs"
	"github.com/rickchristie/sqlgate-mcp/internal/normalize"
)

// Format is an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat accepts "json" or "csv" in any case. Anything else is a
// policy violation.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", errs.Policy("unsupported export format %q: expected json or csv", s)
}

// ContentType returns the MIME type of the encoded document.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

// Extension returns the file extension without a dot.
func (f Format) Extension() string {
	return string(f)
}

// Encode renders rows. JSON output is an array of objects whose keys follow
// column order; a repeated column name gets a numeric suffix (id, id_2) so
// no value is lost. CSV output has a header line with the names as
// returned, RFC 4180 quoting and empty fields for null.
func Encode(f Format, columns []string, rows [][]normalize.Scalar) ([]byte, error) {
	switch f {
	case FormatJSON:
		return encodeJSON(columns, rows)
	case FormatCSV:
		return encodeCSV(columns, rows)
	}
	return nil, errs.Policy("unsupported export format %q: expected json or csv", string(f))
}

func encodeJSON(columns []string, rows [][]normalize.Scalar) ([]byte, error) {
	keys := make([][]byte, len(columns))
	for i, c := range uniqueNames(columns) {
		k, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	for r, row := range rows {
		if r > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for i, v := range row {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.Write(keys[i])
			buf.WriteByte(':')
			b, err := v.MarshalJSON()
			if err != nil {
				return nil, errs.Wrap(errs.KindInternal, "encoding "+columns[i], err)
			}
			buf.Write(b)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// uniqueNames suffixes repeated names with _2, _3, ... skipping suffixed
// names that are already taken.
func uniqueNames(columns []string) []string {
	taken := make(map[string]bool, len(columns))
	for _, c := range columns {
		taken[c] = true
	}
	seen := make(map[string]bool, len(columns))
	out := make([]string, len(columns))
	for i, c := range columns {
		if !seen[c] {
			seen[c] = true
			out[i] = c
			continue
		}
		for n := 2; ; n++ {
			candidate := fmt.Sprintf("%s_%d", c, n)
			if !taken[candidate] {
				taken[candidate] = true
				out[i] = candidate
				break
			}
		}
	}
	return out
}

func encodeCSV(columns []string, rows [][]normalize.Scalar) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return nil, err
	}
	record := make([]string, len(columns))
	for _, row := range rows {
		for i, v := range row {
			record[i] = v.Text()
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
