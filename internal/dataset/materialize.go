// Package dataset rebuilds the tabular gift dataset from cached pages,
// normalizes it into typed gift records and persists both forms as
// full-replacement snapshots.
package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/dvloznov/donation-tracker/internal/pagecache"
)

// Row is one flattened record keyed by dotted column name. Nested objects
// are flattened; lists stay as leaf values.
type Row map[string]interface{}

// Dataset is every record of a run in page-then-row order.
type Dataset struct {
	Columns []string // first-seen order
	Rows    []Row
}

// Materialize reads the page files in the order given and flattens them
// into one dataset.
func Materialize(pages []pagecache.PageFile) (*Dataset, error) {
	docs := make([]interface{}, 0, len(pages))
	for _, p := range pages {
		doc, err := pagecache.ReadPage(p.Path)
		if err != nil {
			return nil, fmt.Errorf("Materialize: page %d: %w", p.Seq, err)
		}
		docs = append(docs, doc)
	}
	return FromDocuments(docs)
}

// FromDocuments flattens already decoded pages into one dataset.
func FromDocuments(docs []interface{}) (*Dataset, error) {
	ds := &Dataset{}
	seen := make(map[string]bool)

	for p, doc := range docs {
		records, err := extractRecords(doc)
		if err != nil {
			return nil, fmt.Errorf("FromDocuments: page %d: %w", p+1, err)
		}
		for i, rec := range records {
			obj, ok := rec.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("FromDocuments: page %d record %d is %T, want object", p+1, i, rec)
			}
			row := make(Row)
			for _, col := range flatten("", obj, row) {
				if !seen[col] {
					seen[col] = true
					ds.Columns = append(ds.Columns, col)
				}
			}
			ds.Rows = append(ds.Rows, row)
		}
	}
	return ds, nil
}

// extractRecords finds the list payload of a page: the top-level "value"
// list, else the document itself when it is a list, else a "value" list
// nested one level down.
func extractRecords(doc interface{}) ([]interface{}, error) {
	switch d := doc.(type) {
	case []interface{}:
		return d, nil
	case map[string]interface{}:
		if v, ok := d["value"]; ok {
			list, ok := v.([]interface{})
			if !ok {
				return nil, fmt.Errorf("field \"value\" is %T, want list", v)
			}
			return list, nil
		}
		for _, k := range sortedKeys(d) {
			inner, ok := d[k].(map[string]interface{})
			if !ok {
				continue
			}
			if list, ok := inner["value"].([]interface{}); ok {
				return list, nil
			}
		}
		return nil, fmt.Errorf("no list payload found")
	default:
		return nil, fmt.Errorf("document is %T, want object or list", doc)
	}
}

// flatten copies obj into row with dotted names and returns the column
// names it produced in sorted-key order.
func flatten(prefix string, obj map[string]interface{}, row Row) []string {
	var cols []string
	for _, k := range sortedKeys(obj) {
		name := prefix + k
		if nested, ok := obj[k].(map[string]interface{}); ok && len(nested) > 0 {
			cols = append(cols, flatten(name+".", nested, row)...)
			continue
		}
		row[name] = obj[k]
		cols = append(cols, name)
	}
	return cols
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WriteJSONL writes one JSON object per row. Keys are sorted, so the same
// dataset always produces the same bytes.
func (ds *Dataset) WriteJSONL(w io.Writer) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for i, row := range ds.Rows {
		if err := enc.Encode(map[string]interface{}(row)); err != nil {
			return fmt.Errorf("WriteJSONL: row %d: %w", i, err)
		}
	}
	return bw.Flush()
}
