package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darianmavgo/claridad/client"
	"github.com/darianmavgo/claridad/page"
	"github.com/darianmavgo/claridad/store"
)

const companiesCSV = "id,company_name,city,employees,revenue\n" +
	"1,Acme,Paris,120,1.5\n" +
	"2,Globex,Oslo,80,2.25\n"

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open("", store.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := Config{Store: st, CORSOrigins: []string{"http://localhost:3000"}}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s, st
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func doUpload(t *testing.T, h http.Handler, path, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, client.FileField, filename, content)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func doQuery(t *testing.T, h http.Handler, q string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]string{"query": q})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, client.QueryPath, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func detail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["detail"]
}

func TestUploadThenQuery(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	rec := doUpload(t, h, "/uploadfile/", "companies.CSV", companiesCSV)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var up map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))
	assert.Equal(t, "File uploaded and data saved successfully.", up["message"])
	assert.Equal(t, float64(2), up["rows"])

	rec = doQuery(t, h, "SELECT * FROM csv_files ORDER BY revenue;")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{
		"columns": ["company_name", "city", "employees", "revenue"],
		"data": [
			{"company_name": "Acme", "city": "Paris", "employees": 120, "revenue": 1.5},
			{"company_name": "Globex", "city": "Oslo", "employees": 80, "revenue": 2.25}
		]
	}`, rec.Body.String())
}

func TestUploadRejectsNonCSV(t *testing.T) {
	s, st := newTestServer(t, nil)

	rec := doUpload(t, s.Handler(), "/uploadfile", "data.txt", "a\n1\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid file type. Only CSV files are allowed.", detail(t, rec))

	tables, err := st.Tables(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestUploadMissingField(t *testing.T) {
	s, _ := newTestServer(t, nil)

	body, ct := multipartBody(t, "other", "a.csv", "a\n1\n")
	req := httptest.NewRequest(http.MethodPost, "/uploadfile", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadTooLarge(t *testing.T) {
	s, _ := newTestServer(t, func(c *Config) { c.MaxUploadBytes = 64 })

	rec := doUpload(t, s.Handler(), "/uploadfile", "big.csv", "a,b\n"+strings.Repeat("1,2\n", 100))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUploadMissingRequiredColumns(t *testing.T) {
	st, err := store.Open("", store.Options{
		Table:           "csv_files",
		HiddenColumns:   []string{"id"},
		RequiredColumns: []string{"id", "company_name", "city", "employees", "revenue"},
	})
	require.NoError(t, err)
	defer st.Close()
	s, err := New(Config{Store: st})
	require.NoError(t, err)

	rec := doUpload(t, s.Handler(), "/uploadfile", "partial.csv", "company_name,city\nAcme,Paris\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, detail(t, rec), "employees")
}

func TestUploadMalformedCSV(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := doUpload(t, s.Handler(), "/uploadfile", "empty.csv", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.True(t, strings.HasPrefix(detail(t, rec), "An error occurred while processing the file: "))
}

func TestQueryErrors(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	rec := doQuery(t, h, "SELECT * FROM nope;")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.HasPrefix(detail(t, rec), "An error occurred while executing the query: "))

	rec = doQuery(t, h, "-- nothing to run\n;")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "The query did not return any columns. Please check your SQL syntax.", detail(t, rec))

	rec = doQuery(t, h, "SELECT 1 AS a; SELECT 2 AS b;")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "An error occurred while executing the query: only one SQL statement can be run at a time", detail(t, rec))

	rec = doQuery(t, h, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/sqlquery/", strings.NewReader("not json"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryCannotModifyData(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	require.Equal(t, http.StatusOK, doUpload(t, h, "/uploadfile", "c.csv", companiesCSV).Code)

	for _, q := range []string{
		"DELETE FROM csv_files RETURNING company_name;",
		"CREATE TABLE t (x INTEGER);",
		"DELETE FROM csv_files; COMMIT; SELECT 1 AS x;",
		"COMMIT; DELETE FROM csv_files RETURNING city;",
		"DROP TABLE csv_files; COMMIT; SELECT 1 AS x;",
		"COMMIT; ATTACH DATABASE 'stolen.db' AS x;",
	} {
		rec := doQuery(t, h, q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.True(t, strings.HasPrefix(detail(t, rec), "An error occurred while executing the query: "), q)
	}

	rec := doQuery(t, h, "SELECT COUNT(*) AS n FROM csv_files;")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"columns":["n"],"data":[{"n":2}]}`, rec.Body.String())
}

func TestLocalUploadReportsImportDetails(t *testing.T) {
	s, _ := newTestServer(t, nil)
	api := localAPI{s: s}
	ctx := context.Background()

	_, err := api.UploadFile(ctx, "first.csv", strings.NewReader("company_name\nAcme\n"))
	require.NoError(t, err)

	out, err := api.UploadFile(ctx, "second.csv", strings.NewReader("company_name,city\nInitech,Rome\n"))
	require.NoError(t, err)
	assert.Equal(t, "File uploaded and data saved successfully.", out["message"])
	assert.Equal(t, 1, out["rows"])
	assert.Equal(t, []string{"city"}, out["added_columns"])
	assert.NotContains(t, out, "rejected")

	resp := &uploadResponse{Message: msgUploadOK, Table: "csv_files", Rows: 3, Rejected: 2}
	assert.Equal(t, map[string]interface{}{
		"message":  msgUploadOK,
		"table":    "csv_files",
		"rows":     3,
		"rejected": 2,
	}, resp.fields())
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	doQuery(t, h, "SELECT 1 AS one;")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "claridad_queries_total")
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/sqlquery", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, func(c *Config) {
		c.RateLimit = RateLimitConfig{RequestsPerSecond: 1, Burst: 2}
	})
	h := s.Handler()

	codes := make([]int, 0, 3)
	for range 3 {
		codes = append(codes, doQuery(t, h, "SELECT 1 AS one;").Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// health checks are not limited
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiterSweepsIdleClients(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1})
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	rl.get("10.0.0.1")
	now = now.Add(2 * limiterIdleTTL)
	rl.get("10.0.0.2")

	assert.Len(t, rl.clients, 1)
	assert.Contains(t, rl.clients, "10.0.0.2")
}

func TestServeWithClient(t *testing.T) {
	s, _ := newTestServer(t, func(c *Config) { c.MaxConnections = 4 })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ServeListener(ctx, ln) }()

	c, err := client.New("http://" + ln.Addr().String())
	require.NoError(t, err)

	out, err := c.UploadFile(context.Background(), "companies.csv", strings.NewReader(companiesCSV))
	require.NoError(t, err)
	assert.Equal(t, "File uploaded and data saved successfully.", out["message"])

	res, err := c.Query(context.Background(), "SELECT company_name FROM csv_files ORDER BY company_name;")
	require.NoError(t, err)
	assert.Equal(t, []string{"company_name"}, res.Columns)
	assert.Len(t, res.Data, 2)

	_, err = c.UploadFile(context.Background(), "notes.txt", strings.NewReader("x"))
	assert.EqualError(t, err, "Request failed with status code 400: Invalid file type. Only CSV files are allowed.")

	cancel()
	require.NoError(t, <-done)
}

func TestUIFlows(t *testing.T) {
	s, _ := newTestServer(t, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	jar := newJar(t)
	hc := &http.Client{Jar: jar}

	// upload through the form
	body, ct := multipartBody(t, "file", "companies.csv", companiesCSV)
	resp, err := hc.Post(srv.URL+"/ui/upload", ct, body)
	require.NoError(t, err)
	page := readBody(t, resp)
	assert.Contains(t, page, "File uploaded successfully!")

	// alerts are shown once
	resp, err = hc.Get(srv.URL + "/")
	require.NoError(t, err)
	assert.NotContains(t, readBody(t, resp), "File uploaded successfully!")

	// invalid query keeps the previous (absent) result and alerts
	resp, err = hc.PostForm(srv.URL+"/ui/query", url.Values{"query": {"select 1"}})
	require.NoError(t, err)
	page = readBody(t, resp)
	assert.Contains(t, page, "SQL query should end with a semicolon (;)")
	assert.NotContains(t, page, "Query Results")

	resp, err = hc.PostForm(srv.URL+"/ui/query", url.Values{"query": {"SELECT company_name, employees FROM csv_files;"}})
	require.NoError(t, err)
	page = readBody(t, resp)
	assert.Contains(t, page, "Query Results")
	assert.Contains(t, page, "<td>Acme</td><td>120</td>")

	resp, err = hc.Get(srv.URL + "/?sort=employees&dir=asc")
	require.NoError(t, err)
	page = readBody(t, resp)
	assert.Less(t, strings.Index(page, "Globex"), strings.Index(page, "Acme"))

	// a form post without a file
	body, ct = multipartBody(t, "other", "x.csv", "")
	resp, err = hc.Post(srv.URL+"/ui/upload", ct, body)
	require.NoError(t, err)
	assert.Contains(t, readBody(t, resp), "Please select a file first!")
}

func TestUISessionsAreIsolated(t *testing.T) {
	s, _ := newTestServer(t, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	a := &http.Client{Jar: newJar(t)}
	b := &http.Client{Jar: newJar(t)}

	resp, err := a.PostForm(srv.URL+"/ui/query", url.Values{"query": {"SELECT 1 AS one;"}})
	require.NoError(t, err)
	assert.Contains(t, readBody(t, resp), "Query Results")

	resp, err = b.Get(srv.URL + "/")
	require.NoError(t, err)
	assert.NotContains(t, readBody(t, resp), "Query Results")
}

type blockingAPI struct {
	started  chan struct{}
	release  chan struct{}
	mu       sync.Mutex
	uploaded []string
}

func (a *blockingAPI) UploadFile(ctx context.Context, filename string, content io.Reader) (map[string]interface{}, error) {
	a.mu.Lock()
	a.uploaded = append(a.uploaded, filename)
	a.mu.Unlock()
	a.started <- struct{}{}
	<-a.release
	return map[string]interface{}{"message": msgUploadOK}, nil
}

func (a *blockingAPI) Query(ctx context.Context, q string) (*page.QueryResult, error) {
	return &page.QueryResult{Columns: []string{"x"}}, nil
}

func TestUIUploadWhileUploading(t *testing.T) {
	api := &blockingAPI{started: make(chan struct{}, 1), release: make(chan struct{})}
	s, _ := newTestServer(t, func(c *Config) { c.PageAPI = api })
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	hc := &http.Client{Jar: newJar(t)}
	resp, err := hc.Get(srv.URL + "/")
	require.NoError(t, err)
	readBody(t, resp)

	first, firstCT := multipartBody(t, "file", "first.csv", companiesCSV)
	done := make(chan string, 1)
	go func() {
		resp, err := hc.Post(srv.URL+"/ui/upload", firstCT, first)
		if err != nil {
			done <- err.Error()
			return
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		done <- string(b)
	}()
	<-api.started

	body, ct := multipartBody(t, "file", "second.csv", companiesCSV)
	resp, err = hc.Post(srv.URL+"/ui/upload", ct, body)
	require.NoError(t, err)
	assert.Contains(t, readBody(t, resp), "Error uploading file: an upload is already in progress")

	close(api.release)
	assert.Contains(t, <-done, "File uploaded successfully!")

	// the rejected file was not left selected
	resp, err = hc.Get(srv.URL + "/")
	require.NoError(t, err)
	assert.NotContains(t, readBody(t, resp), "second.csv")

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, []string{"first.csv"}, api.uploaded)
}
