// Package pagecache walks a paginated gift list and persists every page to
// a numbered JSON file before following its cursor.
package pagecache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dvloznov/donation-tracker/internal/logger"
	"github.com/dvloznov/donation-tracker/internal/skyapi"
)

// Fetcher fetches one page. *skyapi.Client implements it.
type Fetcher interface {
	Get(ctx context.Context, rawURL string, params url.Values) (*skyapi.Response, error)
}

// PageFile is one cached page on disk.
type PageFile struct {
	Seq      int
	Path     string
	NextLink string
}

// envelope is the part of a page the pagination loop reads back.
type envelope struct {
	NextLink *string `json:"next_link"`
}

// Cache owns the page files with a given prefix in one directory.
// A single run is expected to own the directory at a time.
type Cache struct {
	dir    string
	prefix string
}

// New creates a cache writing <dir>/<prefix>_<n>.json files.
func New(dir, prefix string) *Cache {
	return &Cache{dir: dir, prefix: prefix}
}

// PathFor returns the file path of page seq.
func (c *Cache) PathFor(seq int) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s_%d.json", c.prefix, seq))
}

// Paginate fetches startURL with params, then every next_link cursor with
// no extra params, writing each page before the next request. On failure
// the pages written so far are returned along with the error and stay on
// disk until the next Housekeep.
func (c *Cache) Paginate(ctx context.Context, f Fetcher, startURL string, params url.Values) ([]PageFile, error) {
	log := logger.FromContext(ctx)

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return nil, fmt.Errorf("Paginate: creating cache dir: %w", err)
	}

	var pages []PageFile
	seen := make(map[string]bool)
	next := startURL
	for seq := 1; next != ""; seq++ {
		if seen[next] {
			return pages, fmt.Errorf("Paginate: cursor %s repeated on page %d", next, seq)
		}
		seen[next] = true

		resp, err := f.Get(ctx, next, params)
		if err != nil {
			return pages, fmt.Errorf("Paginate: fetching page %d: %w", seq, err)
		}

		page, err := c.write(seq, resp.Document)
		if err != nil {
			return pages, fmt.Errorf("Paginate: %w", err)
		}
		pages = append(pages, page)

		log.Debug().
			Int("page", seq).
			Str("file", page.Path).
			Bool("has_next", page.NextLink != "").
			Msg("Cached page")

		next = page.NextLink
		params = nil
	}

	log.Info().Int("pages", len(pages)).Msg("Pagination finished")
	return pages, nil
}

// write persists doc as page seq and reads the cursor back from the file.
func (c *Cache) write(seq int, doc interface{}) (PageFile, error) {
	path := c.PathFor(seq)

	data, err := encodePage(doc)
	if err != nil {
		return PageFile{}, fmt.Errorf("encoding page %d: %w", seq, err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return PageFile{}, fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return PageFile{}, fmt.Errorf("writing %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return PageFile{}, fmt.Errorf("closing %s: %w", path, err)
	}

	nextLink, err := readNextLink(path)
	if err != nil {
		return PageFile{}, err
	}
	return PageFile{Seq: seq, Path: path, NextLink: nextLink}, nil
}

// encodePage renders doc with sorted keys, four-space indent and
// unescaped HTML characters.
func encodePage(doc interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// readNextLink decodes the cursor from a page file. Pages whose payload is
// a bare list carry no cursor.
func readNextLink(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading back %s: %w", path, err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", nil
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return "", fmt.Errorf("decoding cursor from %s: %w", path, err)
	}
	if env.NextLink == nil {
		return "", nil
	}
	return strings.TrimSpace(*env.NextLink), nil
}

// Load lists the cached pages in sequence order.
func (c *Cache) Load() ([]PageFile, error) {
	files, err := c.list()
	if err != nil {
		return nil, fmt.Errorf("Load: %w", err)
	}
	pages := make([]PageFile, 0, len(files))
	for _, pf := range files {
		nextLink, err := readNextLink(pf.Path)
		if err != nil {
			return nil, fmt.Errorf("Load: %w", err)
		}
		pf.NextLink = nextLink
		pages = append(pages, pf)
	}
	return pages, nil
}

// Housekeep deletes every cached page. Deleting an empty cache is not an error.
func (c *Cache) Housekeep() (int, error) {
	files, err := c.list()
	if err != nil {
		return 0, fmt.Errorf("Housekeep: %w", err)
	}
	removed := 0
	for _, pf := range files {
		if err := os.Remove(pf.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("Housekeep: removing %s: %w", pf.Path, err)
		}
		removed++
	}
	return removed, nil
}

// list finds <prefix>_<n>.json files and sorts them by n.
func (c *Cache) list() ([]PageFile, error) {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", c.dir, err)
	}

	var files []PageFile
	head := c.prefix + "_"
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, head) || !strings.HasSuffix(name, ".json") {
			continue
		}
		seq, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, head), ".json"))
		if err != nil || seq < 1 {
			continue
		}
		files = append(files, PageFile{Seq: seq, Path: filepath.Join(c.dir, name)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Seq < files[j].Seq })
	return files, nil
}

// ReadPage decodes a cached page, keeping numbers as json.Number.
func ReadPage(path string) (interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ReadPage: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("ReadPage: decoding %s: %w", path, err)
	}
	return doc, nil
}
