package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"reflect"
	"time"

	"github.com/gorilla/mux"

	"gallery/internal/analyze"
	"gallery/internal/gallery"
	"gallery/internal/metadata"
	"gallery/internal/storage"
	"gallery/internal/web"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

var pageNames = []string{"index.html", "gallery.html", "photo.html", "result.html"}

const (
	defaultMaxUpload     = 32 << 20
	defaultRecentUploads = 50
)

// Options configures the HTTP layer.
type Options struct {
	Addr           string
	ProcessedDir   string
	StaticDir      string // serve static assets from disk instead of the embedded copy
	MaxUploadBytes int64
	RecentUploads  int
}

// Server serves the gallery pages, the upload analyzer and the live reload socket.
type Server struct {
	opts     Options
	catalog  *gallery.Catalog
	analyzer *analyze.Analyzer
	store    *storage.Store
	hub      *web.Hub
	log      *slog.Logger
	pages    map[string]*template.Template
	server   *http.Server
}

// New parses the page templates and wires the handlers. store and hub may be nil.
func New(opts Options, catalog *gallery.Catalog, analyzer *analyze.Analyzer, store *storage.Store, hub *web.Hub, log *slog.Logger) (*Server, error) {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUpload
	}
	if opts.RecentUploads <= 0 {
		opts.RecentUploads = defaultRecentUploads
	}

	pages, err := parsePages()
	if err != nil {
		return nil, err
	}

	return &Server{
		opts:     opts,
		catalog:  catalog,
		analyzer: analyzer,
		store:    store,
		hub:      hub,
		log:      log,
		pages:    pages,
	}, nil
}

func parsePages() (map[string]*template.Template, error) {
	funcs := template.FuncMap{
		"show":    show,
		"dataURL": dataURL,
	}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New(name).Funcs(funcs).ParseFS(templateFS,
			"templates/base.html", "templates/meta.html", "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		pages[name] = t
	}
	return pages, nil
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")

		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctxShutdown); err != nil {
			s.log.Warn("server shutdown", "error", err)
		}
	}()

	s.log.Info("server starting", "addr", s.opts.Addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	s.setupRoutes(r)
	return r
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/", s.handleHome).Methods(http.MethodGet)
	r.HandleFunc("/gallery", s.handleGallery).Methods(http.MethodGet)
	r.HandleFunc("/photo/{filename}", s.handlePhoto).Methods(http.MethodGet)
	r.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	r.HandleFunc("/delete_blob/{blob_name}", s.handleDeleteBlob).Methods(http.MethodGet)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/photos", s.handlePhotos).Methods(http.MethodGet)
	r.HandleFunc("/api/uploads", s.handleUploads).Methods(http.MethodGet)
	if s.hub != nil {
		r.Handle("/ws", s.hub).Methods(http.MethodGet)
	}

	r.PathPrefix("/images/").Handler(http.StripPrefix("/images/",
		http.FileServer(filesOnly{http.Dir(s.opts.ProcessedDir)}))).Methods(http.MethodGet)
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/",
		http.FileServer(filesOnly{s.staticFiles()}))).Methods(http.MethodGet)
}

// filesOnly hides directories so the file server never renders a listing.
type filesOnly struct {
	fs http.FileSystem
}

func (f filesOnly) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, fs.ErrNotExist
	}
	return file, nil
}

func (s *Server) staticFiles() http.FileSystem {
	if s.opts.StaticDir != "" {
		return http.Dir(s.opts.StaticDir)
	}
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		// only fails for an invalid literal path
		panic(err)
	}
	return http.FS(sub)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := s.pages[name].ExecuteTemplate(&buf, "base", data); err != nil {
		s.log.Error("render template", "template", name, "error", err)
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.render(w, "index.html", map[string]any{"Count": len(s.catalog.Snapshot())})
}

func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request) {
	s.render(w, "gallery.html", map[string]any{"Photos": s.catalog.Snapshot()})
}

func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	photo, ok := s.catalog.Find(mux.Vars(r)["filename"])
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.render(w, "photo.html", map[string]any{"Photo": photo})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, "Upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		// not multipart, no boundary, or a truncated body
		http.Error(w, "No file uploaded", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("photo")
	if err != nil {
		// parts with an empty filename are parsed as plain form values
		if _, ok := r.MultipartForm.Value["photo"]; ok {
			http.Error(w, "No selected file", http.StatusBadRequest)
			return
		}
		http.Error(w, "No file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()
	if header.Filename == "" {
		http.Error(w, "No selected file", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Could not read upload", http.StatusInternalServerError)
		return
	}

	res, err := s.analyzer.Analyze(r.Context(), header.Filename, data)
	if err != nil {
		s.log.Error("analyze upload", "filename", header.Filename, "error", err)
		http.Error(w, "Could not analyze upload", http.StatusInternalServerError)
		return
	}
	s.render(w, "result.html", res)
}

func (s *Server) handleDeleteBlob(w http.ResponseWriter, r *http.Request) {
	s.analyzer.Discard(r.Context(), mux.Vars(r)["blob_name"])
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handlePhotos(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.catalog.Snapshot())
}

func (s *Server) handleUploads(w http.ResponseWriter, r *http.Request) {
	recs := []storage.UploadRecord{}
	if s.store != nil {
		got, err := s.store.RecentUploads(r.Context(), s.opts.RecentUploads)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if got != nil {
			recs = got
		}
	}
	writeJSON(w, recs)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// show renders an optional record field, "Unknown" when absent.
func show(v any) string {
	if v == nil {
		return "Unknown"
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return "Unknown"
	}
	return metadata.Format(v)
}

func dataURL(mime, b64 string) template.URL {
	return template.URL("data:" + mime + ";base64," + b64)
}
