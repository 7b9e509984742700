package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gomponents "maragu.dev/gomponents"

	"github.com/darianmavgo/claridad/page"
)

const (
	sessionCookie  = "claridad_session"
	sessionIdleTTL = time.Hour
)

// uiSession is one browser's page plus the alerts it has not seen yet.
type uiSession struct {
	page     *page.Page
	mu       sync.Mutex
	flashes  []string
	lastSeen time.Time
}

func (u *uiSession) Alert(msg string) {
	u.mu.Lock()
	u.flashes = append(u.flashes, msg)
	u.mu.Unlock()
}

func (u *uiSession) takeFlashes() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := u.flashes
	u.flashes = nil
	return out
}

type sessionStore struct {
	newPage func(alert page.Alerter) *page.Page
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*uiSession
}

func newSessionStore(newPage func(page.Alerter) *page.Page) *sessionStore {
	return &sessionStore{newPage: newPage, now: time.Now, sessions: make(map[string]*uiSession)}
}

// get returns the caller's session, starting a new one (and setting its
// cookie) when the request has none or an expired one.
func (st *sessionStore) get(w http.ResponseWriter, r *http.Request) *uiSession {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.now()
	if c, err := r.Cookie(sessionCookie); err == nil {
		if sess, ok := st.sessions[c.Value]; ok {
			sess.lastSeen = now
			return sess
		}
	}

	for id, sess := range st.sessions {
		if now.Sub(sess.lastSeen) > sessionIdleTTL {
			delete(st.sessions, id)
		}
	}

	id := uuid.NewString()
	sess := &uiSession{lastSeen: now}
	sess.page = st.newPage(sess)
	st.sessions[id] = sess
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sess
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.get(w, r)
	view := page.ParseView(r.URL.Query(), s.cfg.PageSize)
	renderHTML(w, http.StatusOK, page.RenderHTML(sess.page.Snapshot(), view, page.HTMLOptions{
		Alerts: sess.takeFlashes(),
	}))
}

func (s *Server) handleUIUpload(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.get(w, r)
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	// A form post is a fresh selection: no file chosen clears any old one.
	var selected []page.PendingFile
	part, err := filePart(r)
	if err == nil {
		var buf bytes.Buffer
		_, err = io.Copy(&buf, part)
		part.Close()
		if err == nil {
			selected = append(selected, page.PendingFile{Name: part.FileName(), Content: &buf})
		}
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		sess.Alert(page.MsgUploadFailed + uploadError(err).toClientError().Error())
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	if sess.page.Uploading() {
		sess.Alert(page.MsgUploadFailed + page.ErrUploadInFlight.Error())
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	sess.page.SelectFiles(selected)
	if err := sess.page.SubmitUpload(r.Context()); errors.Is(err, page.ErrUploadInFlight) {
		sess.page.SelectFiles(nil)
		sess.Alert(page.MsgUploadFailed + err.Error())
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleUIQuery(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.get(w, r)
	r.Body = http.MaxBytesReader(w, r.Body, maxQueryBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	sess.page.SetQuery(r.PostFormValue("query"))
	_ = sess.page.SubmitQuery(r.Context())
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func renderHTML(w http.ResponseWriter, status int, node gomponents.Node) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = node.Render(w)
}
