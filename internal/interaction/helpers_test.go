package interaction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/snapboard/internal/metrics"
	"github.com/hitoshi/snapboard/internal/model"
	"github.com/hitoshi/snapboard/internal/security"
	"github.com/hitoshi/snapboard/internal/storage"
)

// mockObjectStore はstorage.ObjectStoreのモック。
type mockObjectStore struct {
	mu      sync.Mutex
	deleted []string

	uploadFn  func(ctx context.Context, obj storage.Object, kind storage.Kind, ownerID string) (string, error)
	deleteFn  func(ctx context.Context, key string) error
	presignFn func(ctx context.Context, key string, ttl time.Duration) (string, error)
}

func (m *mockObjectStore) Upload(ctx context.Context, obj storage.Object, kind storage.Kind, ownerID string) (string, error) {
	if m.uploadFn != nil {
		return m.uploadFn(ctx, obj, kind, ownerID)
	}
	return storage.ObjectKey(ownerID, kind, obj.Filename, time.UnixMilli(1700000000000), uuid.NewString()), nil
}

func (m *mockObjectStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	m.deleted = append(m.deleted, key)
	m.mu.Unlock()
	if m.deleteFn != nil {
		return m.deleteFn(ctx, key)
	}
	return nil
}

func (m *mockObjectStore) PresignReadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if m.presignFn != nil {
		return m.presignFn(ctx, key, ttl)
	}
	return "https://objects.example.com/" + key, nil
}

func (m *mockObjectStore) List(context.Context) ([]storage.ObjectInfo, error) {
	return nil, nil
}

func (m *mockObjectStore) deletedKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

// spyMetrics は記録された値を保持するMetricsCollector。
type spyMetrics struct {
	metrics.Nop
	mu                    sync.Mutex
	toggles               map[string]int
	storageDeleteFailures int
}

func (s *spyMetrics) RecordToggle(kind string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.toggles == nil {
		s.toggles = map[string]int{}
	}
	result := "off"
	if on {
		result = "on"
	}
	s.toggles[kind+"/"+result]++
}

func (s *spyMetrics) RecordStorageDeleteFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storageDeleteFailures++
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	store   *fakeStore
	objects *mockObjectStore
	metrics *spyMetrics
	svc     *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:   newFakeStore(),
		objects: &mockObjectStore{},
		metrics: &spyMetrics{},
	}
	env.svc = NewService(env.store, env.objects, security.NewTextSanitizer(), env.metrics, Config{
		Now: func() time.Time { return testNow },
	})
	return env
}

func principal(id string) *model.Principal {
	return model.NewPrincipal(&model.Member{ID: id, Enabled: true, Roles: []string{model.RoleUser}})
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want APIError with code %s", err, code)
	}
	if apiErr.Code != code {
		t.Fatalf("error code = %s, want %s", apiErr.Code, code)
	}
}
