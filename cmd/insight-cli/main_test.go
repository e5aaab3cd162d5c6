package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"insight-service/api/middleware"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostReport(t *testing.T) {
	var (
		gotPath string
		gotKey  string
		gotBody string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get(middleware.APIKeyHeader)
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		if gotKey != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, postReport(context.Background(), srv.URL+"/", "k", "churn", []byte(`{"a":1}`)))
	assert.Equal(t, "/api/churn", gotPath)
	assert.Equal(t, `{"a":1}`, gotBody)

	err := postReport(context.Background(), srv.URL, "wrong", "sales", []byte(`{}`))
	assert.Error(t, err)
	assert.Equal(t, "/api/sales", gotPath)
}
