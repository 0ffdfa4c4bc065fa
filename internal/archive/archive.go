// Package archive copies run artefacts (parquet snapshot, run log) to Cloud Storage.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// ObjectPrefix is the top-level folder for archived runs.
const ObjectPrefix = "donation-digest"

// Store is the archive as the pipeline sees it.
type Store interface {
	UploadFile(ctx context.Context, bucketName, objectName, filePath string) error
	UploadBytes(ctx context.Context, bucketName, objectName, contentType string, data []byte) error
}

// GCSStore is the concrete implementation of Store backed by Google Cloud Storage.
type GCSStore struct{}

// NewGCSStore creates a new instance of GCSStore.
func NewGCSStore() *GCSStore {
	return &GCSStore{}
}

// UploadFile delegates to UploadFile.
func (s *GCSStore) UploadFile(ctx context.Context, bucketName, objectName, filePath string) error {
	return UploadFile(ctx, bucketName, objectName, filePath)
}

// UploadBytes delegates to UploadBytes.
func (s *GCSStore) UploadBytes(ctx context.Context, bucketName, objectName, contentType string, data []byte) error {
	return UploadBytes(ctx, bucketName, objectName, contentType, data)
}

// ObjectName builds the object path for a run artefact:
// donation-digest/<financial year>/<run id>/<file name>.
func ObjectName(financialYear, runID, filename string) string {
	return path.Join(ObjectPrefix, financialYear, runID, path.Base(filename))
}

// URI returns the gs:// URI of an object.
func URI(bucketName, objectName string) string {
	return "gs://" + bucketName + "/" + objectName
}

// ParseURI splits gs://bucket/path into bucket and object.
func ParseURI(gcsURI string) (bucketName, objectName string, err error) {
	if !strings.HasPrefix(gcsURI, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", gcsURI)
	}
	parts := strings.SplitN(strings.TrimPrefix(gcsURI, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", gcsURI)
	}
	return parts[0], parts[1], nil
}

// UploadFile uploads a local file to a GCS bucket under the given object name.
// It relies on Application Default Credentials.
func UploadFile(ctx context.Context, bucketName, objectName, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("UploadFile: open file %q: %w", filePath, err)
	}
	defer f.Close()

	return upload(ctx, bucketName, objectName, "", f)
}

// UploadBytes uploads data to a GCS bucket under the given object name.
func UploadBytes(ctx context.Context, bucketName, objectName, contentType string, data []byte) error {
	return upload(ctx, bucketName, objectName, contentType, bytes.NewReader(data))
}

func upload(ctx context.Context, bucketName, objectName, contentType string, r io.Reader) error {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("create storage client: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("copy to GCS writer %s: %w", URI(bucketName, objectName), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload %s: %w", URI(bucketName, objectName), err)
	}
	return nil
}

// Fetch downloads the bytes of a gs:// object.
func Fetch(ctx context.Context, gcsURI string) ([]byte, error) {
	bucketName, objectName, err := ParseURI(gcsURI)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("Fetch: creating storage client: %w", err)
	}
	defer client.Close()

	rc, err := client.Bucket(bucketName).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading object %s/%s: %w", bucketName, objectName, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Fetch: reading bytes: %w", err)
	}
	return data, nil
}
