package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/models"
	"github.com/iudanet/gophsync/internal/server/storage"
	"github.com/iudanet/gophsync/pkg/api"
)

// mockOwnerStorage is a mock implementation of OwnerStorage for testing
type mockOwnerStorage struct {
	owners      map[api.OwnerID]*models.RelayOwner
	registerErr error
	mu          sync.Mutex
}

func newMockOwnerStorage() *mockOwnerStorage {
	return &mockOwnerStorage{owners: make(map[api.OwnerID]*models.RelayOwner)}
}

func (m *mockOwnerStorage) RegisterOwner(_ context.Context, owner *models.RelayOwner) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registerErr != nil {
		return false, m.registerErr
	}
	if existing, ok := m.owners[owner.ID]; ok {
		if existing.TokenKey != owner.TokenKey {
			return false, storage.ErrOwnerMismatch
		}
		return false, nil
	}
	m.owners[owner.ID] = owner
	return true, nil
}

func (m *mockOwnerStorage) GetOwner(_ context.Context, id api.OwnerID) (*models.RelayOwner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	owner, ok := m.owners[id]
	if !ok {
		return nil, storage.ErrOwnerNotFound
	}
	return owner, nil
}

var (
	testOwner    = api.OwnerID{0x0a, 0x0b}
	testTokenKey = strings.Repeat("ab", 32)
)

func registerRequest(t *testing.T, body interface{}) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	return httptest.NewRequest(http.MethodPost, api.PathOwners, bytes.NewReader(data))
}

func TestOwnersHandler_Register(t *testing.T) {
	owners := newMockOwnerStorage()
	handler := NewOwnersHandler(setupTestLogger(), owners)

	tests := []struct {
		body           interface{}
		name           string
		expectedCode   string
		expectedStatus int
		expectCreated  bool
	}{
		{
			name:           "first registration",
			body:           api.RegisterOwnerRequest{OwnerID: testOwner.String(), TokenKey: testTokenKey},
			expectedStatus: http.StatusCreated,
			expectCreated:  true,
		},
		{
			name:           "same key again",
			body:           api.RegisterOwnerRequest{OwnerID: testOwner.String(), TokenKey: testTokenKey},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "another key",
			body:           api.RegisterOwnerRequest{OwnerID: testOwner.String(), TokenKey: strings.Repeat("cd", 32)},
			expectedStatus: http.StatusConflict,
			expectedCode:   api.CodeOwnerMismatch,
		},
		{
			name:           "invalid owner id",
			body:           api.RegisterOwnerRequest{OwnerID: "not-an-owner", TokenKey: testTokenKey},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   api.CodeProtocol,
		},
		{
			name:           "invalid token key",
			body:           api.RegisterOwnerRequest{OwnerID: testOwner.String(), TokenKey: "zz"},
			expectedStatus: http.StatusBadRequest,
			expectedCode:   api.CodeProtocol,
		},
		{
			name:           "malformed body",
			body:           "just a string",
			expectedStatus: http.StatusBadRequest,
			expectedCode:   api.CodeProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.Register(w, registerRequest(t, tt.body))

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedCode != "" {
				var errResp api.ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
				assert.Equal(t, tt.expectedCode, errResp.Code)
				return
			}

			var resp api.RegisterOwnerResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, testOwner.String(), resp.OwnerID)
			assert.Equal(t, tt.expectCreated, resp.Created)
		})
	}
}

func TestOwnersHandler_StorageError(t *testing.T) {
	owners := newMockOwnerStorage()
	owners.registerErr = errors.New("database is locked")
	handler := NewOwnersHandler(setupTestLogger(), owners)

	w := httptest.NewRecorder()
	handler.Register(w, registerRequest(t, api.RegisterOwnerRequest{OwnerID: testOwner.String(), TokenKey: testTokenKey}))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "database is locked", "storage details are not exposed")
}
