// Package mirror implements the remote mirror (spec §4.10, component K):
// an HTTP server exposing the §6.2 wire protocol (grounded on chi, the
// routed-HTTP server the teacher's own pkg/api/server.go never got to
// since it shipped gRPC instead) and a client that drives the push/pull
// algorithm described in spec §4.10 against any server speaking that
// protocol, grounded on the struct shape of teacher pkg/client/client.go
// (base address + bearer token + typed methods over one shared
// transport).
package mirror

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/tangramcore/tangram/internal/id"
	"github.com/tangramcore/tangram/internal/object"
	"github.com/tangramcore/tangram/internal/tgerror"
	"github.com/tangramcore/tangram/internal/tglog"
)

// Server exposes one object.Store's blocks, operation outputs, and a
// minimal login/package registry over HTTP (spec §6.2), for a peer's
// mirror client to push to or pull from.
type Server struct {
	store  *object.Store
	log    zerolog.Logger
	router chi.Router

	mu      sync.Mutex
	logins  map[string]loginState
	pkgs    map[string]id.ID // "name/version" -> Package value id, empty until something publishes
}

type loginState struct {
	token string
}

// NewServer builds the chi router for store. Call Handler to mount it.
func NewServer(store *object.Store) *Server {
	s := &Server{
		store:  store,
		log:    tglog.WithComponent("mirror-server"),
		logins: map[string]loginState{},
		pkgs:   map[string]id.ID{},
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/blocks/{id}", s.handleGetBlock)
	r.Post("/blocks/{id}", s.handlePostBlock)
	r.Get("/operations/{id}/output", s.handleGetOutput)
	r.Get("/packages/search", s.handleSearchPackages)
	r.Get("/packages/{name}/{version}", s.handleGetPackage)
	r.Post("/logins", s.handleCreateLogin)
	r.Get("/logins/{id}", s.handleGetLogin)
	return r
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	want, err := id.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	payload, err := s.store.RawGet(want)
	if err != nil {
		if tgerror.Is(err, tgerror.KindNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(payload)
}

// missingChildrenBody is the §6.2 409 response shape.
type missingChildrenBody struct {
	Missing []string `json:"missing"`
}

func (s *Server) handlePostBlock(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	outcome, err := s.store.RawTryAdd(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !outcome.Added {
		missing := make([]string, len(outcome.MissingChildren))
		for i, c := range outcome.MissingChildren {
			missing[i] = c.String()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(missingChildrenBody{Missing: missing})
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetOutput(w http.ResponseWriter, r *http.Request) {
	opID, err := id.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	valueID, found, err := s.store.Blocks.GetOutput(opID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Write([]byte(valueID.String()))
}

// handleSearchPackages and handleGetPackage serve spec §6.2's registry
// endpoints against an in-memory name/version table. Publishing to this
// table is out of scope (spec.md §1/§6's non-goal on registry/publish
// commands); the routes exist so K's wire protocol is complete and so a
// deployment wiring a real registry in front of this server has a defined
// contract to implement.
func (s *Server) handleSearchPackages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	s.mu.Lock()
	defer s.mu.Unlock()

	type hit struct {
		Name string `json:"name"`
	}
	var hits []hit
	for key := range s.pkgs {
		if query == "" || contains(key, query) {
			hits = append(hits, hit{Name: key})
		}
	}
	if hits == nil {
		hits = []hit{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(hits)
}

func (s *Server) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "name") + "/" + chi.URLParam(r, "version")
	s.mu.Lock()
	pkgID, ok := s.pkgs[key]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Write([]byte(pkgID.String()))
}

// Publish registers name/version against pkgID for handleGetPackage /
// handleSearchPackages to serve; not part of the wire protocol itself
// (no POST /packages route is specified), just the local hook a future
// publish command would call.
func (s *Server) Publish(name, version string, pkgID id.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pkgs[name+"/"+version] = pkgID
}

func (s *Server) handleCreateLogin(w http.ResponseWriter, r *http.Request) {
	loginID := id.Hash([]byte(r.RemoteAddr + r.UserAgent() + r.URL.String())).String()
	s.mu.Lock()
	s.logins[loginID] = loginState{}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"id":  loginID,
		"url": "/logins/" + loginID,
	})
}

func (s *Server) handleGetLogin(w http.ResponseWriter, r *http.Request) {
	loginID := chi.URLParam(r, "id")
	s.mu.Lock()
	state, ok := s.logins[loginID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"id":    loginID,
		"token": state.token,
	})
}

// CompleteLogin is the hook an out-of-band auth callback (never built here
// — genuinely out of scope) would call to hand a login its token.
func (s *Server) CompleteLogin(loginID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logins[loginID] = loginState{token: token}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
