package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/dvloznov/donation-tracker/internal/pagecache"
)

// giftJSON renders one gift the way the gift list returns it.
func giftJSON(id, amount, date, dateAdded, receipts, splits string) string {
	return fmt.Sprintf(`{
		"id": %q,
		"constituent_id": "c-%s",
		"type": "Donation",
		"amount": {"value": %s},
		"date": %q,
		"date_added": %q,
		"receipts": %s,
		"gift_splits": %s,
		"lookup_id": "L%s"
	}`, id, id, amount, date, dateAdded, receipts, splits, id)
}

func page(next string, gifts ...string) string {
	doc := `{"count": 0, "value": [` + strings.Join(gifts, ",") + `]`
	if next != "" {
		doc += fmt.Sprintf(`, "next_link": %q`, next)
	}
	return doc + "}"
}

func decodeDoc(t *testing.T, s string) interface{} {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		t.Fatalf("decoding fixture: %v\n%s", err, s)
	}
	return v
}

// writePages stores raw page bodies as a cache would and returns them in order.
func writePages(t *testing.T, dir string, bodies ...string) []pagecache.PageFile {
	t.Helper()
	c := pagecache.New(dir, "Gift_List_in_RE")
	pages := make([]pagecache.PageFile, 0, len(bodies))
	for i, body := range bodies {
		path := c.PathFor(i + 1)
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		pages = append(pages, pagecache.PageFile{Seq: i + 1, Path: path})
	}
	return pages
}

const (
	noReceipts = `[]`
	oneSplit   = `[{"campaign_id": "camp-1", "amount": {"value": 0}}]`
)
