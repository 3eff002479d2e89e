package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	syncErrors "github.com/c0deZ3R0/go-storefront-sync/errors"
	"github.com/c0deZ3R0/go-storefront-sync/logging"
	"github.com/c0deZ3R0/go-storefront-sync/remote"
	"github.com/c0deZ3R0/go-storefront-sync/transport/sse"
)

// DocumentStore is the persistence the dev server needs. Missing documents are reported with
// errors.KindNotFound.
type DocumentStore interface {
	List(ctx context.Context, collection string) ([]json.RawMessage, error)
	ListWhere(ctx context.Context, collection, field, value string) ([]json.RawMessage, error)
	Get(ctx context.Context, collection, id string) (json.RawMessage, error)
	Insert(ctx context.Context, collection string, doc json.RawMessage) (string, error)
	Merge(ctx context.Context, collection, id string, fields json.RawMessage) error
	Delete(ctx context.Context, collection, id string) error
}

// Server is a development stand-in for the storefront backend. It stores plain documents with no
// business rules, acknowledges inserts the way a MongoDB driver does, and announces every write
// on an optional notification publisher.
type Server struct {
	store     DocumentStore
	publisher sse.Publisher
	options   *ServerOptions
	logger    *logging.Logger
	router    chi.Router
}

// NewServer builds the router. publisher may be nil.
func NewServer(store DocumentStore, publisher sse.Publisher, logger *logging.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Server{
		store:     store,
		publisher: publisher,
		options:   applyServerOptions(opts...),
		logger:    logger.WithComponent("mockapi"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the chi router so binaries can mount extra endpoints.
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.StripSlashes)
	r.Use(middleware.Recoverer)

	origins := s.options.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Encoding", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		s.respond(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	if broker, ok := s.publisher.(*sse.Broker); ok {
		r.Method(http.MethodGet, "/events", broker.Handler())
	}

	r.Route("/{collection}", func(r chi.Router) {
		r.Use(s.knownCollection)
		if s.options.RequestTimeout > 0 {
			r.Use(middleware.Timeout(s.options.RequestTimeout))
		}
		if s.options.CompressionEnabled {
			r.Use(middleware.Compress(5, "application/json"))
		}
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)
		r.Get("/{key}", s.handleGet)
		r.Put("/{key}", s.handleMerge)
		r.Patch("/{key}", s.handleMerge)
		r.Delete("/{key}", s.handleDelete)
	})
	return r
}

func (s *Server) knownCollection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !remote.ValidCollection(chi.URLParam(r, "collection")) {
			s.respondErr(w, r, http.StatusNotFound, "unknown collection")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// respond writes payload as JSON. A nil document list is sent as [] so clients never see null.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, code int, payload interface{}) {
	if docs, ok := payload.([]json.RawMessage); ok && docs == nil {
		payload = []json.RawMessage{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.LogError(r.Context(), err, "encode response", slog.String("path", r.URL.Path))
		code, body = http.StatusInternalServerError, []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, code int, message string) {
	s.respond(w, r, code, map[string]string{"error": message})
}

func (s *Server) storeFailure(w http.ResponseWriter, r *http.Request, err error) {
	if syncErrors.IsKind(err, syncErrors.KindNotFound) {
		s.respondErr(w, r, http.StatusNotFound, "not found")
		return
	}
	if syncErrors.IsKind(err, syncErrors.KindInvalid) {
		s.respondErr(w, r, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.LogError(r.Context(), err, "store operation failed",
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.GetReqID(r.Context())))
	s.respondErr(w, r, http.StatusInternalServerError, "internal error")
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.List(r.Context(), chi.URLParam(r, "collection"))
	if err != nil {
		s.storeFailure(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, docs)
}

// handleGet serves GET /{collection}/{key}: a scoped list for scoped collections, otherwise a
// single document.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	collection, key := chi.URLParam(r, "collection"), chi.URLParam(r, "key")
	if field, scoped := s.options.ScopedCollections[collection]; scoped {
		docs, err := s.store.ListWhere(r.Context(), collection, field, key)
		if err != nil {
			s.storeFailure(w, r, err)
			return
		}
		s.respond(w, r, http.StatusOK, docs)
		return
	}

	doc, err := s.store.Get(r.Context(), collection, key)
	if err != nil {
		s.storeFailure(w, r, err)
		return
	}
	s.respond(w, r, http.StatusOK, doc)
}

func (s *Server) readObject(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	reader, cleanup, err := createSafeRequestReader(w, r, s.options)
	if err != nil {
		s.respondErr(w, r, mapErrorToHTTPStatus(err), err.Error())
		return nil, false
	}
	defer cleanup()

	body, err := io.ReadAll(reader)
	if err != nil {
		s.respondErr(w, r, mapErrorToHTTPStatus(err), "request entity too large")
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		s.respondErr(w, r, http.StatusBadRequest, "request body must be a JSON object")
		return nil, false
	}
	return body, true
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	body, ok := s.readObject(w, r)
	if !ok {
		return
	}

	id, err := s.store.Insert(r.Context(), collection, body)
	if err != nil {
		s.storeFailure(w, r, err)
		return
	}
	s.publish(collection, sse.Created, id)
	s.respond(w, r, http.StatusCreated, map[string]any{"acknowledged": true, "insertedId": id})
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	collection, id := chi.URLParam(r, "collection"), chi.URLParam(r, "key")
	body, ok := s.readObject(w, r)
	if !ok {
		return
	}

	if err := s.store.Merge(r.Context(), collection, id, body); err != nil {
		s.storeFailure(w, r, err)
		return
	}
	s.publish(collection, sse.Updated, id)
	s.respond(w, r, http.StatusOK, map[string]any{"acknowledged": true, "modifiedCount": 1})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	collection, id := chi.URLParam(r, "collection"), chi.URLParam(r, "key")
	if err := s.store.Delete(r.Context(), collection, id); err != nil {
		s.storeFailure(w, r, err)
		return
	}
	s.publish(collection, sse.Deleted, id)
	s.respond(w, r, http.StatusOK, map[string]any{"acknowledged": true, "deletedCount": 1})
}

func (s *Server) publish(collection string, action sse.Action, id string) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(sse.Notification{Collection: collection, Action: action, ID: id, At: time.Now().UTC()})
}

// ErrNotJSON is returned by DecodeSeed when the seed file is not a JSON object of arrays.
var ErrNotJSON = errors.New("seed must be a JSON object mapping collection names to arrays")

// DecodeSeed parses a seed file of the form {"products": [...], "thermos": [...]}.
func DecodeSeed(data []byte) (map[string][]json.RawMessage, error) {
	var seed map[string][]json.RawMessage
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, errors.Join(ErrNotJSON, err)
	}
	for collection := range seed {
		if !remote.ValidCollection(collection) {
			return nil, syncErrors.NewValidationError(syncErrors.OpLoad, errors.New("unknown collection "+collection))
		}
	}
	return seed, nil
}
