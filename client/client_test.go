package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadFileSendsMultipart(t *testing.T) {
	var gotName, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, UploadPath, r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data"))

		f, hdr, err := r.FormFile(FileField)
		require.NoError(t, err)
		defer f.Close()
		b, _ := io.ReadAll(f)
		gotName, gotBody = hdr.Filename, string(b)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"ok","rows":2}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL + "/")
	require.NoError(t, err)

	out, err := c.UploadFile(context.Background(), "data.CSV", strings.NewReader("a,b\n1,2\n"))
	require.NoError(t, err)
	assert.Equal(t, "data.CSV", gotName)
	assert.Equal(t, "a,b\n1,2\n", gotBody)
	assert.Equal(t, "ok", out["message"])
	assert.Equal(t, json.Number("2"), out["rows"])
}

func TestQuerySendsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, QueryPath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"query": "select 1;"}, body)

		_, _ = w.Write([]byte(`{"columns":["a","b"],"data":[{"a":1,"b":2000000}]}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	res, err := c.Query(context.Background(), "select 1;")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, res.Columns)
	require.Len(t, res.Data, 1)
	assert.Equal(t, json.Number("2000000"), res.Data[0]["b"])
}

func TestQueryErrorDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"An error occurred while executing the query: no such table: nope"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.Query(context.Background(), "select * from nope;")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "Request failed with status code 400: An error occurred while executing the query: no such table: nope", err.Error())
}

func TestErrorDetailFallsBackToBody(t *testing.T) {
	assert.Equal(t, "bad gateway", errorDetail(strings.NewReader("bad gateway\n")))
	assert.Equal(t, `[{"msg":"field required"}]`, errorDetail(strings.NewReader(`{"detail":[{"msg":"field required"}]}`)))
}

func TestQueryMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"not a table"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	_, err = c.Query(context.Background(), "select 1;")
	assert.Error(t, err)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("localhost:8000")
	assert.Error(t, err)
	_, err = New("ftp://example.com")
	assert.Error(t, err)
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(url)
	require.NoError(t, err)
	_, err = c.UploadFile(context.Background(), "a.csv", strings.NewReader("x\n"))
	assert.Error(t, err)
}
