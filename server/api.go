package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/darianmavgo/claridad/client"
	"github.com/darianmavgo/claridad/converters"
	"github.com/darianmavgo/claridad/page"
	"github.com/darianmavgo/claridad/store"
)

const (
	msgUploadOK       = "File uploaded and data saved successfully."
	msgInvalidType    = "Invalid file type. Only CSV files are allowed."
	msgNoFile         = "No file was uploaded in field \"file\"."
	msgTooLarge       = "File too large."
	msgUploadFailed   = "An error occurred while processing the file: "
	msgInvalidBody    = "Invalid request body. Expected {\"query\": \"...\"}."
	msgEmptyQuery     = "Query must not be empty."
	msgNoColumns      = "The query did not return any columns. Please check your SQL syntax."
	msgQueryFailed    = "An error occurred while executing the query: "
	maxQueryBodyBytes = 1 << 20
)

// apiError is an HTTP status and the detail text sent with it.
type apiError struct {
	status int
	detail string
}

func (e *apiError) Error() string { return e.detail }

// toClientError presents e the way a remote client would have seen it.
func (e *apiError) toClientError() error {
	return &client.APIError{StatusCode: e.status, Detail: e.detail}
}

type uploadResponse struct {
	Message      string   `json:"message"`
	Table        string   `json:"table"`
	Rows         int      `json:"rows"`
	Rejected     int      `json:"rejected,omitempty"`
	AddedColumns []string `json:"added_columns,omitempty"`
}

// fields returns r keyed by its JSON names, dropping empty optional fields.
func (r *uploadResponse) fields() map[string]interface{} {
	m := map[string]interface{}{
		"message": r.Message,
		"table":   r.Table,
		"rows":    r.Rows,
	}
	if r.Rejected != 0 {
		m["rejected"] = r.Rejected
	}
	if len(r.AddedColumns) > 0 {
		m["added_columns"] = r.AddedColumns
	}
	return m
}

type queryRequest struct {
	Query string `json:"query"`
}

// ingest stores one upload and records its outcome.
func (s *Server) ingest(ctx context.Context, filename string, r io.Reader) (*uploadResponse, *apiError) {
	if !page.IsCSVName(filename) {
		uploads.WithLabelValues(outcome(http.StatusBadRequest)).Inc()
		return nil, &apiError{http.StatusBadRequest, msgInvalidType}
	}

	res, err := s.store.Ingest(ctx, filename, r)
	if err != nil {
		aerr := uploadError(err)
		uploads.WithLabelValues(outcome(aerr.status)).Inc()
		s.log.Warn("upload failed", "file", filename, "status", aerr.status, "error", err)
		return nil, aerr
	}

	uploads.WithLabelValues(outcome(http.StatusOK)).Inc()
	uploadedRows.Add(float64(res.Rows))
	return &uploadResponse{
		Message:      msgUploadOK,
		Table:        res.Table,
		Rows:         res.Rows,
		Rejected:     res.Rejected,
		AddedColumns: res.AddedColumns,
	}, nil
}

func uploadError(err error) *apiError {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return &apiError{http.StatusRequestEntityTooLarge, msgTooLarge}
	case errors.Is(err, converters.ErrMissingColumns):
		return &apiError{http.StatusBadRequest, err.Error()}
	default:
		return &apiError{http.StatusInternalServerError, msgUploadFailed + err.Error()}
	}
}

// query runs q and records its outcome.
func (s *Server) query(ctx context.Context, q string) (*store.Result, *apiError) {
	if q == "" {
		queries.WithLabelValues(outcome(http.StatusBadRequest)).Inc()
		return nil, &apiError{http.StatusBadRequest, msgEmptyQuery}
	}

	start := time.Now()
	res, err := s.store.Query(ctx, q)
	queryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		aerr := &apiError{http.StatusBadRequest, msgQueryFailed + err.Error()}
		if errors.Is(err, store.ErrNoColumns) {
			aerr.detail = msgNoColumns
		}
		queries.WithLabelValues(outcome(aerr.status)).Inc()
		s.log.Debug("query failed", "error", err)
		return nil, aerr
	}
	queries.WithLabelValues(outcome(http.StatusOK)).Inc()
	return res, nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	part, err := filePart(r)
	if err != nil {
		aerr := uploadError(err)
		if aerr.status == http.StatusInternalServerError {
			aerr = &apiError{http.StatusBadRequest, msgNoFile}
		}
		writeError(w, aerr.status, aerr.detail)
		return
	}
	defer part.Close()

	resp, aerr := s.ingest(r.Context(), part.FileName(), part)
	if aerr != nil {
		writeError(w, aerr.status, aerr.detail)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// filePart streams the request's multipart body up to the "file" field.
func filePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("missing file field")
			}
			return nil, err
		}
		if part.FormName() == client.FileField && part.FileName() != "" {
			return part, nil
		}
		part.Close()
	}
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	res, aerr := s.query(r.Context(), req.Query)
	if aerr != nil {
		writeError(w, aerr.status, aerr.detail)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a {"detail": ...} error body.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// localAPI serves the page flows in-process with the same semantics as the
// HTTP endpoints.
type localAPI struct {
	s *Server
}

func (a localAPI) UploadFile(ctx context.Context, filename string, content io.Reader) (map[string]interface{}, error) {
	resp, aerr := a.s.ingest(ctx, filename, content)
	if aerr != nil {
		return nil, aerr.toClientError()
	}
	return resp.fields(), nil
}

func (a localAPI) Query(ctx context.Context, q string) (*client.QueryResult, error) {
	res, aerr := a.s.query(ctx, q)
	if aerr != nil {
		return nil, aerr.toClientError()
	}
	return &client.QueryResult{Columns: res.Columns, Data: res.Data}, nil
}

var _ page.API = localAPI{}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		http.Error(w, fmt.Sprintf("database unavailable: %v", err), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}
