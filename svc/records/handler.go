package records

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/replicast/pkg/apierror"
	"github.com/dmitrymomot/replicast/pkg/logger"
)

// ReplicationHeader reports what happened to the announce of a write.
const ReplicationHeader = "X-Replication"

const maxBodyBytes = 64 << 10

type createRequest struct {
	ID    int64  `json:"id"`
	Value string `json:"value"`
}

type updateRequest struct {
	Value string `json:"value"`
}

// Handler exposes the service over HTTP.
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler returns the HTTP adapter for svc. A nil svc answers every
// request with DependencyMissing.
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{svc: svc, log: log}
}

// Handle returns the router, meant to be mounted at /records:
//
//	GET    /        list
//	POST   /        create {"id":..,"value":..}
//	GET    /{id}    read
//	PUT    /{id}    update {"value":..}
//	DELETE /{id}    delete
func (h *Handler) Handle() http.Handler {
	r := chi.NewRouter()
	r.Get("/", apierror.Handle(h.log, h.list))
	r.Post("/", apierror.Handle(h.log, h.create))
	r.Get("/{id}", apierror.Handle(h.log, h.get))
	r.Put("/{id}", apierror.Handle(h.log, h.update))
	r.Delete("/{id}", apierror.Handle(h.log, h.delete))
	return r
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) error {
	if err := h.ready(); err != nil {
		return err
	}
	list, err := h.svc.List(r.Context())
	if err != nil {
		return classify(err)
	}
	return writeJSON(w, http.StatusOK, list)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) error {
	if err := h.ready(); err != nil {
		return err
	}
	id, err := pathID(r)
	if err != nil {
		return err
	}
	rec, err := h.svc.Get(r.Context(), id)
	if err != nil {
		return classify(err)
	}
	return writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) error {
	if err := h.ready(); err != nil {
		return err
	}
	var req createRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}
	rec, repl, err := h.svc.Insert(r.Context(), req.ID, req.Value)
	if err != nil {
		return classify(err)
	}
	w.Header().Set(ReplicationHeader, string(repl))
	return writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) error {
	if err := h.ready(); err != nil {
		return err
	}
	id, err := pathID(r)
	if err != nil {
		return err
	}
	var req updateRequest
	if err := decode(w, r, &req); err != nil {
		return err
	}
	rec, repl, err := h.svc.Update(r.Context(), id, req.Value)
	if err != nil {
		return classify(err)
	}
	w.Header().Set(ReplicationHeader, string(repl))
	return writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) error {
	if err := h.ready(); err != nil {
		return err
	}
	id, err := pathID(r)
	if err != nil {
		return err
	}
	rec, repl, err := h.svc.Delete(r.Context(), id)
	if err != nil {
		return classify(err)
	}
	w.Header().Set(ReplicationHeader, string(repl))
	return writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) ready() error {
	if h.svc == nil || h.svc.repo == nil {
		return apierror.NewDependencyMissing()
	}
	return nil
}

// classify maps the package's own errors; everything else goes through
// apierror.Classify.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrNoStore):
		return apierror.NewDependencyMissing()
	case errors.Is(err, ErrInvalidID), errors.Is(err, ErrInvalidValue):
		return apierror.NewInvalidOperation(err.Error())
	}
	return err
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apierror.NewInvalidOperation("record id must be a positive integer, got " + strconv.Quote(raw))
	}
	return id, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apierror.NewInvalidOperation("malformed request body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
