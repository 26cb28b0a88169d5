// Package httpapi exposes the annotation store over HTTP. It backs the
// restclient store and pushes change notifications to connected widgets
// over SSE.
//
// Request text (bodies, author labels) is sanitised to plain text before
// storage; annotation positions are validated server-side so non-finite
// coordinates never reach the store.
package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/crypto/bcrypt"

	"github.com/pinlay/pinlay/comment"
	"github.com/pinlay/pinlay/idgen"
)

// Server handles annotation API requests.
type Server struct {
	store     comment.Store
	logger    *slog.Logger
	sanitizer *bluemonday.Policy
	newAnnID  idgen.Generator
	newRepID  idgen.Generator
	passHash  []byte
	now       func() time.Time

	// mu serialises load-modify-save cycles; the store contract is
	// whole-page replacement, last write wins.
	mu sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithPasswordHash enables basic auth; the password is checked against
// this bcrypt hash. The username is ignored.
func WithPasswordHash(hash []byte) Option {
	return func(s *Server) { s.passHash = hash }
}

// WithIDGenerator overrides the annotation/reply ID generator.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *Server) {
		s.newAnnID = idgen.Prefixed("ann_", gen)
		s.newRepID = idgen.Prefixed("rep_", gen)
	}
}

// WithClock overrides the timestamp source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates a Server over the given store.
func New(store comment.Store, opts ...Option) *Server {
	s := &Server{
		store:     store,
		logger:    slog.Default(),
		sanitizer: bluemonday.StrictPolicy(),
		newAnnID:  idgen.Prefixed("ann_", idgen.Default),
		newRepID:  idgen.Prefixed("rep_", idgen.Default),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router builds the chi router.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if s.passHash != nil {
			r.Use(s.requireAuth)
		}
		r.Route("/api/pages/{pageKey}", func(r chi.Router) {
			r.Get("/annotations", s.listAnnotations)
			r.Put("/annotations", s.replaceAnnotations)
			r.Post("/annotations", s.createAnnotation)
			r.Patch("/annotations/{id}/position", s.updatePosition)
			r.Post("/annotations/{id}/resolve", s.toggleResolved)
			r.Post("/annotations/{id}/replies", s.addReply)
			r.Delete("/annotations/{id}", s.deleteAnnotation)
			r.Get("/events", s.events)
		})
	})

	return r
}

func (s *Server) listAnnotations(w http.ResponseWriter, r *http.Request) {
	pageKey, ok := s.pageKey(w, r)
	if !ok {
		return
	}
	anns, err := s.store.LoadAll(r.Context(), pageKey)
	if err != nil {
		s.fail(w, "load annotations", err)
		return
	}
	if anns == nil {
		anns = []comment.Annotation{}
	}
	writeJSON(w, http.StatusOK, anns)
}

func (s *Server) replaceAnnotations(w http.ResponseWriter, r *http.Request) {
	pageKey, ok := s.pageKey(w, r)
	if !ok {
		return
	}
	var anns []comment.Annotation
	if err := json.NewDecoder(r.Body).Decode(&anns); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	for i := range anns {
		anns[i].PageKey = pageKey
		anns[i].Body = s.sanitizer.Sanitize(anns[i].Body)
		anns[i].Author = s.sanitizer.Sanitize(anns[i].Author)
		for j := range anns[i].Replies {
			anns[i].Replies[j].Body = s.sanitizer.Sanitize(anns[i].Replies[j].Body)
			anns[i].Replies[j].Author = s.sanitizer.Sanitize(anns[i].Replies[j].Author)
		}
		if err := anns[i].Validate(); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}

	s.mu.Lock()
	err := s.store.SaveAll(r.Context(), pageKey, anns)
	s.mu.Unlock()
	if err != nil {
		s.fail(w, "save annotations", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createRequest struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Body     string  `json:"body"`
	Author   string  `json:"author"`
	Selector string  `json:"selector,omitempty"`
}

func (s *Server) createAnnotation(w http.ResponseWriter, r *http.Request) {
	pageKey, ok := s.pageKey(w, r)
	if !ok {
		return
	}
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	ann := comment.Annotation{
		ID:        s.newAnnID(),
		PageKey:   pageKey,
		X:         req.X,
		Y:         req.Y,
		Body:      s.sanitizer.Sanitize(req.Body),
		Author:    s.sanitizer.Sanitize(req.Author),
		CreatedAt: s.now().UnixMilli(),
		Selector:  req.Selector,
	}
	if err := ann.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	err := s.modifyPage(r, pageKey, func(anns []comment.Annotation) ([]comment.Annotation, error) {
		return append(anns, ann), nil
	})
	if err != nil {
		s.fail(w, "create annotation", err)
		return
	}
	writeJSON(w, http.StatusCreated, ann)
}

type positionRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (s *Server) updatePosition(w http.ResponseWriter, r *http.Request) {
	pageKey, ok := s.pageKey(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	found := false
	err := s.modifyPage(r, pageKey, func(anns []comment.Annotation) ([]comment.Annotation, error) {
		for i := range anns {
			if anns[i].ID == id {
				anns[i].X = req.X
				anns[i].Y = req.Y
				if err := anns[i].Validate(); err != nil {
					return nil, err
				}
				found = true
				return anns, nil
			}
		}
		return anns, nil
	})
	if err != nil {
		if err == comment.ErrInvalidPosition {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.fail(w, "update position", err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "annotation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toggleResolved(w http.ResponseWriter, r *http.Request) {
	pageKey, ok := s.pageKey(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	found := false
	err := s.modifyPage(r, pageKey, func(anns []comment.Annotation) ([]comment.Annotation, error) {
		for i := range anns {
			if anns[i].ID == id {
				anns[i].Resolved = !anns[i].Resolved
				found = true
			}
		}
		return anns, nil
	})
	if err != nil {
		s.fail(w, "toggle resolved", err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "annotation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type replyRequest struct {
	Body   string `json:"body"`
	Author string `json:"author"`
}

func (s *Server) addReply(w http.ResponseWriter, r *http.Request) {
	pageKey, ok := s.pageKey(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	reply := comment.Reply{
		ID:           s.newRepID(),
		AnnotationID: id,
		Body:         s.sanitizer.Sanitize(req.Body),
		Author:       s.sanitizer.Sanitize(req.Author),
		CreatedAt:    s.now().UnixMilli(),
	}

	found := false
	err := s.modifyPage(r, pageKey, func(anns []comment.Annotation) ([]comment.Annotation, error) {
		for i := range anns {
			if anns[i].ID == id {
				anns[i].Replies = append(anns[i].Replies, reply)
				found = true
			}
		}
		return anns, nil
	})
	if err != nil {
		s.fail(w, "add reply", err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "annotation not found")
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

func (s *Server) deleteAnnotation(w http.ResponseWriter, r *http.Request) {
	pageKey, ok := s.pageKey(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	found := false
	err := s.modifyPage(r, pageKey, func(anns []comment.Annotation) ([]comment.Annotation, error) {
		for i := range anns {
			if anns[i].ID == id {
				found = true
				return append(anns[:i], anns[i+1:]...), nil
			}
		}
		return anns, nil
	})
	if err != nil {
		s.fail(w, "delete annotation", err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "annotation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// events streams the page's annotation list over SSE after each change.
// Requires a store with push support.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	pageKey, ok := s.pageKey(w, r)
	if !ok {
		return
	}

	sub, ok := s.store.(comment.Subscriber)
	if !ok {
		writeError(w, http.StatusNotImplemented, "store does not support subscriptions")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := make(chan []comment.Annotation, 8)
	unsubscribe := sub.Subscribe(pageKey, func(anns []comment.Annotation) {
		select {
		case events <- anns:
		default:
			// Slow consumer: drop the intermediate state; the next
			// event carries the full list anyway.
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case anns := <-events:
			data, err := json.Marshal(anns)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: comments-changed\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// modifyPage runs a load-modify-save cycle under the server mutex.
func (s *Server) modifyPage(r *http.Request, pageKey string,
	fn func([]comment.Annotation) ([]comment.Annotation, error)) error {

	s.mu.Lock()
	defer s.mu.Unlock()

	anns, err := s.store.LoadAll(r.Context(), pageKey)
	if err != nil {
		return err
	}
	anns, err = fn(anns)
	if err != nil {
		return err
	}
	return s.store.SaveAll(r.Context(), pageKey, anns)
}

func (s *Server) pageKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "pageKey")
	key, err := url.PathUnescape(raw)
	if err != nil || key == "" {
		writeError(w, http.StatusBadRequest, "invalid page key")
		return "", false
	}
	return key, true
}

func (s *Server) fail(w http.ResponseWriter, action string, err error) {
	s.logger.Error("httpapi: "+action+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// --- middleware ---

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("httpapi: request",
			"method", r.Method, "path", r.URL.Path,
			"duration", time.Since(start))
	})
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, pass, ok := r.BasicAuth()
		if !ok || bcrypt.CompareHashAndPassword(s.passHash, []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="pinlay"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
