// Package web serves the flashcard client and its sync endpoints.
package web

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/flashdeck/internal/deckstore"
	"github.com/conorfennell/flashdeck/internal/digest"
	"github.com/conorfennell/flashdeck/internal/domain"
	"github.com/conorfennell/flashdeck/internal/sync"
)

//go:embed all:static
var staticFiles embed.FS

//go:embed all:templates
var templateFiles embed.FS

// DefaultMaxBodyBytes limits request bodies when Options leaves it unset.
const DefaultMaxBodyBytes = 8 << 20

const historyLimit = 50

var errBadRequest = errors.New("bad request")

// Options configures a Server.
type Options struct {
	// SyncEnabled exposes the sync, upsert and deck routes. Without it
	// the server only hands out the offline client.
	SyncEnabled  bool
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	svc         *sync.Service
	store       deckstore.Store
	router      *http.ServeMux
	templates   *template.Template
	static      fs.FS
	validate    *validator.Validate
	syncEnabled bool
	maxBody     int64
	log         *slog.Logger
}

// NewServer creates and configures a new server.
func NewServer(svc *sync.Service, store deckstore.Store, opts Options) (*Server, error) {
	tpl, err := template.ParseFS(templateFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("failed to open static assets: %w", err)
	}

	s := &Server{
		svc:         svc,
		store:       store,
		router:      http.NewServeMux(),
		templates:   tpl,
		static:      staticFS,
		validate:    domain.NewValidator(),
		syncEnabled: opts.SyncEnabled,
		maxBody:     opts.MaxBodyBytes,
		log:         opts.Logger,
	}
	if s.maxBody <= 0 {
		s.maxBody = DefaultMaxBodyBytes
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.routes()
	return s, nil
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	fileServer := http.FileServer(http.FS(s.static))
	s.router.Handle("GET /static/", http.StripPrefix("/static/", fileServer))

	s.router.HandleFunc("GET /{$}", s.handleIndex())
	s.router.HandleFunc("GET /cache.manifest", s.handleManifest())

	s.router.Handle("/resources.json", s.requireSync(s.handleResources()))
	s.router.Handle("/update-card", s.requireSync(s.handleUpdateCard()))
	s.router.Handle("GET /decks/{deck}/due", s.requireSync(s.handleDue()))
	s.router.Handle("GET /decks/{deck}/next", s.requireSync(s.handleNext()))
	s.router.Handle("POST /decks/{deck}/review", s.requireSync(s.handleReview()))
	s.router.Handle("GET /decks/{deck}/history", s.requireSync(s.handleHistory()))
	s.router.Handle("GET /decks/{deck}/{file}", s.requireSync(s.handleDeckFile()))
}

// requireSync answers 404 for everything behind it while sync is off.
func (s *Server) requireSync(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.syncEnabled {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleIndex renders the client page.
func (s *Server) handleIndex() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := s.renderIndex(&buf); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(buf.Bytes())
	}
}

func (s *Server) renderIndex(w io.Writer) error {
	data := map[string]interface{}{
		"Sync": s.syncEnabled,
	}
	if err := s.templates.ExecuteTemplate(w, "index.html", data); err != nil {
		return fmt.Errorf("failed to render index: %w", err)
	}
	return nil
}

// handleManifest serves the offline cache manifest.
func (s *Server) handleManifest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		manifest, err := s.Manifest(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "text/cache-manifest")
		io.WriteString(w, manifest)
	}
}

// handleResources merges the client's decks and answers with every
// stored deck. A request without decks only pulls.
func (s *Server) handleResources() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

		var in domain.Snapshot
		if err := s.readValue(r, "resources", &in); err != nil {
			s.writeError(w, r, err)
			return
		}
		out, err := s.svc.Sync(r.Context(), in)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, r, out)
	}
}

type updateCardRequest struct {
	Deck string      `json:"deck" validate:"required,deckname"`
	Card domain.Card `json:"card" validate:"required"`
}

// handleUpdateCard stores one card without comparing edit times.
func (s *Server) handleUpdateCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

		var req updateCardRequest
		if isJSON(r) {
			if err := decodeBody(r, &req); err != nil {
				s.writeError(w, r, err)
				return
			}
		} else {
			if err := s.readValue(r, "card", &req.Card); err != nil {
				s.writeError(w, r, err)
				return
			}
			req.Deck = r.Form.Get("deck")
		}
		if err := s.validate.Struct(req); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}

		if err := s.svc.Upsert(r.Context(), req.Deck, req.Card); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// handleDue lists the cards of a deck that are due for review.
func (s *Server) handleDue() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("deck")
		cards, err := s.svc.Due(r.Context(), name)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, r, domain.Deck{Name: name, Cards: cards})
	}
}

// handleNext returns the card to study next.
func (s *Server) handleNext() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		card, err := s.svc.Next(r.Context(), r.PathValue("deck"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, r, card)
	}
}

type reviewRequest struct {
	Question string `json:"question" validate:"required"`
	Correct  *bool  `json:"correct" validate:"required"`
}

// handleReview grades one card and returns it as stored.
func (s *Server) handleReview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

		var req reviewRequest
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if err := s.validate.Struct(req); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}

		card, err := s.svc.Review(r.Context(), r.PathValue("deck"), req.Question, *req.Correct)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, r, card)
	}
}

type roundView struct {
	ID        int64    `json:"id"`
	Kind      string   `json:"kind"`
	Incoming  int      `json:"incoming"`
	Added     int      `json:"added"`
	Replaced  int      `json:"replaced"`
	Rejected  int      `json:"rejected"`
	Skipped   int      `json:"skipped"`
	Total     int      `json:"total"`
	Purged    []string `json:"purged"`
	CreatedAt string   `json:"created_at"`
}

// handleHistory lists the latest sync rounds of a deck.
func (s *Server) handleHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := historyLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "Invalid limit", http.StatusBadRequest)
				return
			}
			limit = min(n, historyLimit)
		}

		rounds, err := s.svc.Rounds(r.Context(), r.PathValue("deck"), limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		views := make([]roundView, 0, len(rounds))
		for _, rd := range rounds {
			purged := rd.Purged
			if purged == nil {
				purged = []string{}
			}
			views = append(views, roundView{
				ID:        rd.ID,
				Kind:      rd.Kind,
				Incoming:  rd.Incoming,
				Added:     rd.Added,
				Replaced:  rd.Replaced,
				Rejected:  rd.Rejected,
				Skipped:   rd.Skipped,
				Total:     rd.Total,
				Purged:    purged,
				CreatedAt: rd.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
			})
		}
		s.writeJSON(w, r, views)
	}
}

// handleDeckFile serves an image stored with a deck.
func (s *Server) handleDeckFile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		file := r.PathValue("file")
		rc, err := s.store.OpenAsset(r.Context(), r.PathValue("deck"), file)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		defer rc.Close()

		w.Header().Set("Content-Type", deckstore.AssetContentType(file))
		if _, err := io.Copy(w, rc); err != nil {
			s.log.Warn("Failed to send deck file", "path", r.URL.Path, "error", err)
		}
	}
}

// isJSON reports whether the request carries its payload as a JSON body.
// Clients send GET requests with a JSON content type and the payload in
// the query, so only POST bodies count.
func isJSON(r *http.Request) bool {
	return r.Method == http.MethodPost && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// readValue decodes a JSON document carried either as a query or form
// value named key, or as a JSON request body. A missing value leaves v
// untouched.
func (s *Server) readValue(r *http.Request, key string, v any) error {
	if isJSON(r) {
		return decodeBody(r, v)
	}
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("%w: %w", errBadRequest, err)
	}
	raw := r.Form.Get(key)
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%w: %s: %v", errBadRequest, key, err)
	}
	return nil
}

func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// writeJSON sends v the way decks are stored: indented, sorted keys, with
// a strong ETag over the body.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	body, err := encodeJSON(v)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	etag := digest.ETag(body)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", etag)
	cacheable := r.Method == http.MethodGet || r.Method == http.MethodHead
	if cacheable && r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Write(body)
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
	case errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrMalformedCard),
		errors.Is(err, errBadRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, sync.ErrNoJournal):
		http.Error(w, "Sync journal disabled", http.StatusNotFound)
	default:
		s.log.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
