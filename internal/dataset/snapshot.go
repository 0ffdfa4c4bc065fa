package dataset

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dvloznov/donation-tracker/internal/domain"
)

// SaveRaw replaces the raw snapshot at path with ds as JSON lines.
func SaveRaw(path string, ds *Dataset) error {
	if err := replaceFile(path, ds.WriteJSONL); err != nil {
		return fmt.Errorf("SaveRaw: %w", err)
	}
	return nil
}

// SaveParquet replaces the normalized snapshot at path and returns its size.
func SaveParquet(path string, gifts []domain.Gift) (int, error) {
	data, err := EncodeParquet(gifts)
	if err != nil {
		return 0, fmt.Errorf("SaveParquet: %w", err)
	}
	err = replaceFile(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("SaveParquet: %w", err)
	}
	return len(data), nil
}

// LoadParquet reads the normalized snapshot at path.
func LoadParquet(ctx context.Context, path string) ([]domain.Gift, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadParquet: %w", err)
	}
	return DecodeParquet(ctx, data)
}

// replaceFile writes through a temporary file in the same directory and
// renames it over path, so readers never see a partial snapshot.
func replaceFile(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
