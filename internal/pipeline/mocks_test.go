package pipeline

import (
	"context"
	"net/url"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/notify"
	"github.com/dvloznov/donation-tracker/internal/skyapi"
)

// MockFetcher is a mock implementation of pagecache.Fetcher for testing.
type MockFetcher struct {
	GetFunc func(ctx context.Context, rawURL string, params url.Values) (*skyapi.Response, error)
}

func (m *MockFetcher) Get(ctx context.Context, rawURL string, params url.Values) (*skyapi.Response, error) {
	return m.GetFunc(ctx, rawURL, params)
}

// MockLookup is a mock implementation of report.Lookup for testing.
type MockLookup struct {
	ResolveDonorFunc    func(ctx context.Context, id string) (skyapi.Donor, error)
	ResolveCampaignFunc func(ctx context.Context, id string) (string, error)
}

func (m *MockLookup) ResolveDonor(ctx context.Context, id string) (skyapi.Donor, error) {
	if m.ResolveDonorFunc != nil {
		return m.ResolveDonorFunc(ctx, id)
	}
	return skyapi.Donor{ID: id, Name: "Donor " + id, Individual: true}, nil
}

func (m *MockLookup) ResolveCampaign(ctx context.Context, id string) (string, error) {
	if m.ResolveCampaignFunc != nil {
		return m.ResolveCampaignFunc(ctx, id)
	}
	return "Campaign " + id, nil
}

// MockMailer records every message it is asked to send.
type MockMailer struct {
	SendFunc func(ctx context.Context, m notify.Message) error
	Sent     []notify.Message
}

func (m *MockMailer) Send(ctx context.Context, msg notify.Message) error {
	m.Sent = append(m.Sent, msg)
	if m.SendFunc != nil {
		return m.SendFunc(ctx, msg)
	}
	return nil
}

// MockGiftRepository is a mock implementation of warehouse.GiftRepository for testing.
type MockGiftRepository struct {
	ReplaceSnapshotFunc func(ctx context.Context, runID string, gifts []domain.Gift) error
	ListGiftsSinceFunc  func(ctx context.Context, from civil.Date) ([]domain.Gift, error)
}

func (m *MockGiftRepository) ReplaceSnapshot(ctx context.Context, runID string, gifts []domain.Gift) error {
	if m.ReplaceSnapshotFunc != nil {
		return m.ReplaceSnapshotFunc(ctx, runID, gifts)
	}
	return nil
}

func (m *MockGiftRepository) ListGiftsSince(ctx context.Context, from civil.Date) ([]domain.Gift, error) {
	if m.ListGiftsSinceFunc != nil {
		return m.ListGiftsSinceFunc(ctx, from)
	}
	return nil, nil
}

func (m *MockGiftRepository) Close() error { return nil }

// MockStore is a mock implementation of archive.Store for testing.
type MockStore struct {
	UploadFileFunc  func(ctx context.Context, bucketName, objectName, filePath string) error
	UploadBytesFunc func(ctx context.Context, bucketName, objectName, contentType string, data []byte) error
}

func (m *MockStore) UploadFile(ctx context.Context, bucketName, objectName, filePath string) error {
	if m.UploadFileFunc != nil {
		return m.UploadFileFunc(ctx, bucketName, objectName, filePath)
	}
	return nil
}

func (m *MockStore) UploadBytes(ctx context.Context, bucketName, objectName, contentType string, data []byte) error {
	if m.UploadBytesFunc != nil {
		return m.UploadBytesFunc(ctx, bucketName, objectName, contentType, data)
	}
	return nil
}
