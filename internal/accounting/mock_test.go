package accounting

import (
	"context"

	"github.com/stretchr/testify/mock"

	"invoiceflow/pkg/models"
)

type mockAdapter struct {
	mock.Mock
}

func (m *mockAdapter) Provider() Provider { return ProviderQuickBooks }

func (m *mockAdapter) Connect(ctx context.Context, creds OAuthCredentials) (*ConnectionMetadata, error) {
	args := m.Called(ctx, creds)
	meta, _ := args.Get(0).(*ConnectionMetadata)
	return meta, args.Error(1)
}

func (m *mockAdapter) Disconnect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockAdapter) RefreshTokenIfNeeded(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockAdapter) GetConnectionStatus(ctx context.Context) (*ConnectionStatus, error) {
	args := m.Called(ctx)
	status, _ := args.Get(0).(*ConnectionStatus)
	return status, args.Error(1)
}

func (m *mockAdapter) GetVendors(ctx context.Context, query string) ([]Vendor, error) {
	args := m.Called(ctx, query)
	vendors, _ := args.Get(0).([]Vendor)
	return vendors, args.Error(1)
}

func (m *mockAdapter) GetVendorByID(ctx context.Context, id string) (*Vendor, error) {
	args := m.Called(ctx, id)
	v, _ := args.Get(0).(*Vendor)
	return v, args.Error(1)
}

func (m *mockAdapter) CreateVendor(ctx context.Context, payload VendorPayload) (string, error) {
	args := m.Called(ctx, payload)
	return args.String(0), args.Error(1)
}

func (m *mockAdapter) UpdateVendor(ctx context.Context, id string, payload VendorPayload) error {
	return m.Called(ctx, id, payload).Error(0)
}

func (m *mockAdapter) CreateBill(ctx context.Context, payload *BillPayload) (*BillResult, error) {
	args := m.Called(ctx, payload)
	res, _ := args.Get(0).(*BillResult)
	return res, args.Error(1)
}

func (m *mockAdapter) GetBill(ctx context.Context, id string) (*Bill, error) {
	args := m.Called(ctx, id)
	b, _ := args.Get(0).(*Bill)
	return b, args.Error(1)
}

func (m *mockAdapter) AttachFile(ctx context.Context, billID string, file Attachment) error {
	return m.Called(ctx, billID, file).Error(0)
}

func (m *mockAdapter) CheckIdempotency(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *mockAdapter) HandleProviderError(err error) *SyncError {
	return &SyncError{Code: "UNKNOWN_ERROR", Message: err.Error(), Err: err}
}

type memoryRecorder struct {
	entries []models.SyncLog
}

func (r *memoryRecorder) RecordSync(_ context.Context, entry models.SyncLog) error {
	r.entries = append(r.entries, entry)
	return nil
}
