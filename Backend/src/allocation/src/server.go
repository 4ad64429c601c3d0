package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// Server expone el API JSON consumido por el frontend. Las lecturas
// nunca toman acceso exclusivo ni mutan estado.
type Server struct {
	db     *sql.DB
	store  *Store
	ledger *Ledger
	coord  *Coordinator
}

func NewServer(db *sql.DB, store *Store, ledger *Ledger, coord *Coordinator) *Server {
	return &Server{db: db, store: store, ledger: ledger, coord: coord}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/allocations", s.handleAllocate)
	mux.HandleFunc("GET /api/allocations", s.handleListAllocations)
	mux.HandleFunc("GET /api/allocations/{id}", s.handleGetAllocation)
	mux.HandleFunc("POST /api/resources", s.handleCreateResource)
	mux.HandleFunc("GET /api/resources", s.handleListResources)
	mux.HandleFunc("GET /api/resources/{id}", s.handleGetResource)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return cors.Default().Handler(mux)
}

type allocateRequest struct {
	ResourceID string `json:"resource_id"`
	Qty        int64  `json:"qty"`
}

type allocateResponse struct {
	Success      bool        `json:"success"`
	Allocation   *Allocation `json:"allocation,omitempty"`
	ErrorKind    string      `json:"error_kind,omitempty"`
	Message      string      `json:"message,omitempty"`
	AvailableQty *int64      `json:"available_qty,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// mapea la taxonomía de errores del core al envelope HTTP
func writeAllocError(w http.ResponseWriter, err error) {
	resp := allocateResponse{Success: false, Message: err.Error()}

	var ins ErrInsufficient
	var conflict ErrConflict
	switch {
	case errors.Is(err, ErrInvalidQuantity):
		resp.ErrorKind = "invalid_quantity"
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrAllocationNotFound):
		resp.ErrorKind = "not_found"
		writeJSON(w, http.StatusNotFound, resp)
	case errors.As(err, &ins):
		resp.ErrorKind = "insufficient_stock"
		resp.AvailableQty = &ins.Available
		writeJSON(w, http.StatusConflict, resp)
	case errors.Is(err, ErrAcquireTimeout):
		resp.ErrorKind = "timeout"
		writeJSON(w, http.StatusServiceUnavailable, resp)
	case errors.As(err, &conflict):
		resp.ErrorKind = "conflict"
		writeJSON(w, http.StatusInternalServerError, resp)
	case errors.Is(err, ErrResourceExists):
		resp.ErrorKind = "already_exists"
		writeJSON(w, http.StatusConflict, resp)
	default:
		resp.ErrorKind = "internal"
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req allocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, allocateResponse{
			Success: false, ErrorKind: "bad_request", Message: "invalid json body",
		})
		return
	}
	if req.ResourceID == "" {
		writeJSON(w, http.StatusBadRequest, allocateResponse{
			Success: false, ErrorKind: "bad_request", Message: "resource_id requerido",
		})
		return
	}

	a, err := s.coord.Allocate(r.Context(), req.ResourceID, req.Qty)
	if err != nil {
		writeAllocError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, allocateResponse{Success: true, Allocation: a})
}

func (s *Server) handleListAllocations(w http.ResponseWriter, r *http.Request) {
	out, err := s.ledger.List(r.Context())
	if err != nil {
		writeAllocError(w, err)
		return
	}
	log.Debug().Int("count", len(out)).Msg("ListAllocations")
	writeJSON(w, http.StatusOK, map[string]any{"allocations": out})
}

func (s *Server) handleGetAllocation(w http.ResponseWriter, r *http.Request) {
	a, err := s.ledger.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAllocError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type createResourceRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Qty  int64  `json:"qty"`
}

func (s *Server) handleCreateResource(w http.ResponseWriter, r *http.Request) {
	var req createResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, allocateResponse{
			Success: false, ErrorKind: "bad_request", Message: "invalid json body",
		})
		return
	}
	if req.ID == "" || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, allocateResponse{
			Success: false, ErrorKind: "bad_request", Message: "id y name requeridos",
		})
		return
	}
	res, err := s.store.CreateResource(r.Context(), req.ID, req.Name, req.Qty)
	if err != nil {
		writeAllocError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.ListResources(r.Context())
	if err != nil {
		writeAllocError(w, err)
		return
	}
	log.Debug().Int("count", len(out)).Msg("ListResources")
	writeJSON(w, http.StatusOK, map[string]any{"resources": out})
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	res, err := s.store.FindResource(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAllocError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
