// Package server is a reference command server for page clients.
//
// Each page keeps a queue of commands. The page's client drains it one
// command per poll; commands that ask for a reply park the caller until the
// client posts the correlated answer. Page edits are sent as structured
// commands (set_text, set_image_src, ...) that the client maps onto its
// registered handlers; the server never ships code.
package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/st-keller/edge-commandloop/update"
)

var (
	// ErrPageExists is returned when adding a page at a path already taken.
	ErrPageExists = errors.New("page already exists")

	// ErrMissingMainPage is returned when serving without a page at "/".
	ErrMissingMainPage = errors.New("main page \"/\" does not exist")

	// ErrServing is returned when adding a page after the handler was
	// handed out. gin's router is not safe to modify while serving.
	ErrServing = errors.New("server already serving")
)

// Options configures a Server.
type Options struct {
	Addr string // listen address; default ":5000"

	// RequestLogging enables gin's access log. Off by default: every client
	// polls continuously.
	RequestLogging bool

	Logger *slog.Logger // nil = slog.Default()
}

// Server routes pages and their command channels.
type Server struct {
	options Options
	engine  *gin.Engine
	logger  *slog.Logger

	mu      sync.Mutex
	pages   map[string]*Page
	serving bool
}

// New creates a Server with no pages.
func New(options Options) *Server {
	if options.Addr == "" {
		options.Addr = ":5000"
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	if options.RequestLogging {
		engine.Use(gin.Logger())
	}

	return &Server{
		options: options,
		engine:  engine,
		logger:  logger,
		pages:   make(map[string]*Page),
	}
}

// AddPage serves tmpl (executed with data) at path and opens its command
// channel on POST to the same path. Pages must be added before Handler or
// ListenAndServe is called.
func (s *Server) AddPage(path string, tmpl *template.Template, data any) (*Page, error) {
	if tmpl == nil {
		return nil, fmt.Errorf("template required for page %s", path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.serving {
		return nil, fmt.Errorf("%w: cannot add page %s", ErrServing, path)
	}
	if _, exists := s.pages[path]; exists {
		return nil, fmt.Errorf("%w: %s", ErrPageExists, path)
	}

	page := newPage(path, tmpl, data, s.logger)
	s.engine.GET(path, page.handleGet)
	s.engine.POST(path, page.handlePost)
	s.pages[path] = page
	return page, nil
}

// Page returns the page at path.
func (s *Server) Page(path string) (*Page, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page, ok := s.pages[path]
	return page, ok
}

// Paths returns the served page paths in sorted order.
func (s *Server) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.pages))
	for path := range s.pages {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// SetGlobalUpdateInterval sets the poll interval of every page.
func (s *Server) SetGlobalUpdateInterval(interval update.Interval) error {
	s.mu.Lock()
	pages := make([]*Page, 0, len(s.pages))
	for _, page := range s.pages {
		pages = append(pages, page)
	}
	s.mu.Unlock()

	for _, page := range pages {
		if err := page.SetUpdateInterval(interval); err != nil {
			return err
		}
	}
	return nil
}

// Handler returns the HTTP handler. The main page must exist. Once it
// returns, the page set is fixed.
func (s *Server) Handler() (http.Handler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages["/"]; !ok {
		return nil, ErrMissingMainPage
	}
	s.serving = true
	return s.engine, nil
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              s.options.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving pages", "addr", s.options.Addr, "pages", s.Paths())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	}
}
