// Package page holds the state of the upload-and-query page: a pending CSV
// upload, the query being edited, and the last successful query result.
package page

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/darianmavgo/claridad/client"
)

// Alert texts shown to the user.
const (
	MsgSelectFile     = "Please select a file first!"
	MsgSelectCSV      = "Please select a CSV file!"
	MsgUploadOK       = "File uploaded successfully!"
	MsgUploadFailed   = "Error uploading file: "
	MsgEnterQuery     = "Please enter a SQL query!"
	MsgNeedsSemicolon = "SQL query should end with a semicolon (;)"
	MsgQueryFailed    = "Error executing query: "
)

var (
	ErrNoFile         = errors.New("no file selected")
	ErrNotCSV         = errors.New("selected file is not a CSV file")
	ErrUploadInFlight = errors.New("an upload is already in progress")
	ErrEmptyQuery     = errors.New("query is empty")
	ErrNoTerminator   = errors.New("query does not end with a semicolon")
	// ErrStaleResult is returned by SubmitQuery when a newer query was issued
	// before this one finished; its result is dropped.
	ErrStaleResult = errors.New("query result superseded by a newer query")
)

// QueryResult is the column/row payload of a successful query.
type QueryResult = client.QueryResult

// API is the backend the page talks to. *client.Client implements it.
type API interface {
	UploadFile(ctx context.Context, filename string, content io.Reader) (map[string]interface{}, error)
	Query(ctx context.Context, query string) (*QueryResult, error)
}

// Alerter shows a message to the user.
type Alerter interface {
	Alert(msg string)
}

// AlerterFunc adapts a function to Alerter.
type AlerterFunc func(msg string)

func (f AlerterFunc) Alert(msg string) { f(msg) }

// PendingFile is a file chosen for upload but not yet sent.
type PendingFile struct {
	Name    string
	Content io.Reader
}

func (f *PendingFile) close() {
	if c, ok := f.Content.(io.Closer); ok {
		_ = c.Close()
	}
}

// Options configures a Page.
type Options struct {
	// PreserveFailedQuery keeps the query text when the backend rejects it.
	PreserveFailedQuery bool
	Logger              *slog.Logger
}

// Page is the upload-and-query page state. It is safe for concurrent use;
// the lock is never held across a backend call.
type Page struct {
	api   API
	alert Alerter
	opts  Options
	log   *slog.Logger

	mu        sync.Mutex
	pending   *PendingFile
	query     string
	result    *QueryResult
	uploading bool
	querySeq  uint64
}

// New returns an empty page using api for requests and alert for feedback.
func New(api API, alert Alerter, opts Options) *Page {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Page{api: api, alert: alert, opts: opts, log: log}
}

// SelectFile stores the chosen file as the pending upload, replacing (and
// closing) any previous choice. Nothing is validated here.
func (p *Page) SelectFile(name string, content io.Reader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending != nil {
		p.pending.close()
	}
	p.pending = &PendingFile{Name: name, Content: content}
}

// SelectFiles stores the first of files; an empty selection clears the
// pending upload.
func (p *Page) SelectFiles(files []PendingFile) {
	if len(files) == 0 {
		p.mu.Lock()
		if p.pending != nil {
			p.pending.close()
		}
		p.pending = nil
		p.mu.Unlock()
		return
	}
	p.SelectFile(files[0].Name, files[0].Content)
}

// SubmitUpload validates and sends the pending file. Validation failures
// alert and leave the pending file in place; once a request is issued the
// pending file is released whatever the outcome.
func (p *Page) SubmitUpload(ctx context.Context) error {
	p.mu.Lock()
	if p.uploading {
		p.mu.Unlock()
		return ErrUploadInFlight
	}
	f := p.pending
	if f == nil {
		p.mu.Unlock()
		p.alert.Alert(MsgSelectFile)
		return ErrNoFile
	}
	if !IsCSVName(f.Name) {
		p.mu.Unlock()
		p.alert.Alert(MsgSelectCSV)
		return ErrNotCSV
	}
	// the request owns the file from here on
	p.pending = nil
	p.uploading = true
	p.mu.Unlock()

	defer func() {
		f.close()
		p.mu.Lock()
		p.uploading = false
		p.mu.Unlock()
	}()

	resp, err := p.api.UploadFile(ctx, f.Name, f.Content)
	if err != nil {
		p.log.Warn("upload failed", "file", f.Name, "error", err)
		p.alert.Alert(MsgUploadFailed + err.Error())
		return err
	}
	p.log.Debug("upload response", "file", f.Name, "response", resp)
	p.alert.Alert(MsgUploadOK)
	return nil
}

// SetQuery replaces the query text verbatim.
func (p *Page) SetQuery(text string) {
	p.mu.Lock()
	p.query = text
	p.mu.Unlock()
}

// SubmitQuery validates and runs the current query text. On success the
// result replaces the previous one, unless a newer query has been issued in
// the meantime. The query text is cleared after the attempt if it was not
// edited while the request was in flight.
func (p *Page) SubmitQuery(ctx context.Context) error {
	p.mu.Lock()
	text := p.query
	if text == "" {
		p.mu.Unlock()
		p.alert.Alert(MsgEnterQuery)
		return ErrEmptyQuery
	}
	if !strings.HasSuffix(text, ";") {
		p.mu.Unlock()
		p.alert.Alert(MsgNeedsSemicolon)
		return ErrNoTerminator
	}
	p.querySeq++
	seq := p.querySeq
	p.mu.Unlock()

	res, err := p.api.Query(ctx, text)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.query == text && (err == nil || !p.opts.PreserveFailedQuery) {
		p.query = ""
	}
	if err != nil {
		p.log.Warn("query failed", "error", err)
		p.alert.Alert(MsgQueryFailed + err.Error())
		return err
	}
	if seq != p.querySeq {
		p.log.Debug("dropping stale query result", "seq", seq, "latest", p.querySeq)
		return ErrStaleResult
	}
	p.result = res
	return nil
}

// Snapshot is a consistent copy of the page state for rendering.
type Snapshot struct {
	PendingFile string
	QueryText   string
	Uploading   bool
	Result      *QueryResult
}

// Snapshot returns the current state.
func (p *Page) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Snapshot{QueryText: p.query, Uploading: p.uploading, Result: p.result}
	if p.pending != nil {
		s.PendingFile = p.pending.Name
	}
	return s
}

// Result returns the last successful query result, or nil.
func (p *Page) Result() *QueryResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// QueryText returns the query being edited.
func (p *Page) QueryText() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.query
}

// Uploading reports whether an upload is in flight.
func (p *Page) Uploading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uploading
}

// IsCSVName reports whether name has a .csv extension, ignoring case.
func IsCSVName(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".csv")
}
