package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"classcast-backend/interfaces/http/rest/handlers"
	"classcast-backend/pkg/httpclient"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestReadAssignments(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int
	}{
		{"bare array", `[{"title":"a"},{"title":"b"}]`, 2},
		{"wrapped", `{"assignments":[{"title":"a"}]}`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := readAssignments(strings.NewReader(tt.input))

			require.NoError(t, err)
			assert.Len(t, list, tt.want)
		})
	}

	_, err := readAssignments(strings.NewReader(`"nope"`))
	assert.ErrorContains(t, err, "parse input")
}

func TestImporter_ChunksRequests(t *testing.T) {
	// Arrange
	var mu sync.Mutex
	var seen []handlers.BatchAssignmentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, batchPath, r.URL.Path)
		var req handlers.BatchAssignmentRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		seen = append(seen, req)
		mu.Unlock()

		status := http.StatusOK
		resp := handlers.BatchAssignmentResponse{Success: true, RequestID: req.RequestID, ProcessedCount: len(req.Assignments)}
		if len(req.Assignments) == 1 {
			status = http.StatusMultiStatus
			resp = handlers.BatchAssignmentResponse{RequestID: req.RequestID, FailedCount: 1, Errors: []string{"assignment 0: title is required"}}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	im := &importer{
		client:    httpclient.New(httpclient.DefaultConfig(srv.URL)),
		chunkSize: 2,
		logger:    zap.NewNop(),
	}
	list := make([]handlers.CreateAssignmentRequest, 5)

	// Act
	sum, err := im.run(context.Background(), list, "fall")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Requests)
	assert.Equal(t, 4, sum.Processed)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, []string{"assignment 0: title is required"}, sum.Errors)
	require.Len(t, seen, 3)
	assert.Equal(t, "fall-0", seen[0].RequestID)
	assert.Equal(t, "fall-2", seen[2].RequestID)
}

func TestImporter_StopsOnRejectedChunk(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":true,"code":"invalid","message":"bad import"}`))
	}))
	defer srv.Close()

	cfg := httpclient.DefaultConfig(srv.URL)
	cfg.RetryDelay = time.Millisecond
	im := &importer{client: httpclient.New(cfg), chunkSize: 1, logger: zap.NewNop()}

	sum, err := im.run(context.Background(), make([]handlers.CreateAssignmentRequest, 3), "x")

	var apiErr *httpclient.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, 0, sum.Requests)
	assert.Equal(t, 1, calls)
}

func TestTokenManager_UsesRefreshSkew(t *testing.T) {
	// Arrange
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"accessToken":"a-2","refreshToken":"r-2","expiresIn":3600}`))
	}))
	defer srv.Close()

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "inst-1",
		"exp": time.Now().Add(30 * time.Second).Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	t.Setenv("CLASSCAST_ACCESS_TOKEN", access)
	t.Setenv("CLASSCAST_REFRESH_TOKEN", "r-1")

	// Act
	wide, err := tokenManager(srv.URL, time.Minute, zap.NewNop()).AccessToken(context.Background())
	require.NoError(t, err)
	narrow, err := tokenManager(srv.URL, time.Second, zap.NewNop()).AccessToken(context.Background())
	require.NoError(t, err)

	// Assert
	assert.Equal(t, "a-2", wide)
	assert.Equal(t, access, narrow)
}

func TestTokenManager_NoAccessToken(t *testing.T) {
	t.Setenv("CLASSCAST_ACCESS_TOKEN", "")

	assert.Nil(t, tokenManager("", time.Second, zap.NewNop()))
}
