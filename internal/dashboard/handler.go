package dashboard

import (
	"embed"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/beacondao/mirin/internal/store"
)

//go:embed static/*
var staticFS embed.FS

// NonceHeader carries the nonce of the snapshot a module or loader body came from,
// so a client fetching both can tell whether a publish happened in between.
const NonceHeader = "X-Mirin-Nonce"

// Pipeline is the view of the build engine shown on /api/status.
type Pipeline interface {
	StateName() string
	QueueLength() int
}

// Server serves the current snapshot and build status.
type Server struct {
	store    *store.Store
	pipeline Pipeline
	metrics  http.Handler
}

// NewServer creates a server reading from s. pipeline and metrics may be nil.
func NewServer(s *store.Store, pipeline Pipeline, metrics http.Handler) *Server {
	return &Server{store: s, pipeline: pipeline, metrics: metrics}
}

// Handler returns an http.Handler for the read surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Landing page
	mux.HandleFunc("GET /{$}", s.serveStatic("static/index.html", "text/html; charset=utf-8"))
	mux.HandleFunc("GET /worker.js", s.serveStatic("static/worker.js", "text/javascript; charset=utf-8"))

	// Snapshot
	mux.HandleFunc("GET /module", s.handleModule)
	mux.HandleFunc("GET /loader", s.handleLoader)
	mux.HandleFunc("GET /checksum", s.handleChecksum)

	// API
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/history", s.handleHistory)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return mux
}

func (s *Server) serveStatic(name, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := staticFS.ReadFile(name)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Write(data)
	}
}

func (s *Server) handleModule(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Current()
	if snap == nil {
		http.NotFound(w, r)
		return
	}
	writeArtifact(w, snap, "application/wasm", snap.Binary)
}

func (s *Server) handleLoader(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Current()
	if snap == nil {
		http.NotFound(w, r)
		return
	}
	writeArtifact(w, snap, "text/javascript; charset=utf-8", snap.Loader)
}

func writeArtifact(w http.ResponseWriter, snap *store.Snapshot, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set(NonceHeader, snap.Checksum())
	w.Write(body)
}

func (s *Server) handleChecksum(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write([]byte(s.store.Checksum()))
}

// Status is the body of /api/status.
type Status struct {
	State    string             `json:"state"`
	Queue    int                `json:"queue"`
	Nonce    uint64             `json:"nonce"`
	Revision string             `json:"revision,omitempty"`
	Last     *store.BuildRecord `json:"last_build,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := Status{State: "idle"}
	if s.pipeline != nil {
		st.State = s.pipeline.StateName()
		st.Queue = s.pipeline.QueueLength()
	}
	if snap := s.store.Current(); snap != nil {
		st.Nonce = snap.Nonce
		st.Revision = snap.Revision
	}
	if last, ok := s.store.Last(); ok {
		st.Last = &last
	}
	writeJSON(w, st)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	n := -1
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		n = parsed
	}
	records := s.store.Recent(n)
	// Reverse chronological (newest first)
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	writeJSON(w, records)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
