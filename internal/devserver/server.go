package devserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/dannberg/obsidian-secondbrain-sync/internal/exclusion"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/models"
	"github.com/dannberg/obsidian-secondbrain-sync/internal/remote"
)

// maxBatchNotes is the per-request payload cap enforced on sync batches.
const maxBatchNotes = 100

// Server holds the dev endpoint state. The exclusion filter is the server's
// authoritative rule set; clients pull it and push replacements.
type Server struct {
	store  *Store
	filter *exclusion.Filter
	token  string
	sched  models.Schedule
	log    *slog.Logger

	mu        sync.Mutex
	vaultName string
	lastSync  *time.Time
}

// New creates a dev server around the given store. An empty token disables
// authentication.
func New(store *Store, token string, sched models.Schedule, log *slog.Logger) *Server {
	return &Server{
		store:  store,
		filter: exclusion.New(models.ExclusionRules{}),
		token:  token,
		sched:  sched,
		log:    log,
	}
}

// Router builds the chi router with all API routes mounted.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(authMiddleware(s.token))
		api.Get("/vault/status", s.handleStatus)
		api.Post("/vault/sync", s.handleSync)
		api.Post("/vault/delete", s.handleDelete)
		api.Get("/vault/exclusions", s.handleGetExclusions)
		api.Put("/vault/exclusions", s.handlePutExclusions)
		api.Get("/digest/schedule", s.handleSchedule)
	})

	return r
}

// authMiddleware validates a Bearer token. An empty token means open dev
// mode and all requests pass through.
func authMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != token {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	count, err := s.store.Count()
	if err != nil {
		s.log.Error("status count failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	s.mu.Lock()
	name := s.vaultName
	last := s.lastSync
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, remote.StatusResponse{
		VaultName:    name,
		LastSync:     last,
		TotalNotes:   count,
		IndexedNotes: count,
		PendingNotes: 0,
		Exclusions:   s.filter.Rules(),
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 32<<20)
	var req remote.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}

	err := validation.ValidateStruct(&req,
		validation.Field(&req.BatchID, validation.Required),
		validation.Field(&req.Notes, validation.Required, validation.Length(1, maxBatchNotes)),
	)
	if err != nil {
		writeValidationError(w, err)
		return
	}

	var noteErrs []remote.NoteError
	accepted := make([]models.Note, 0, len(req.Notes))
	for _, n := range req.Notes {
		if verr := validateNote(n); verr != nil {
			noteErrs = append(noteErrs, remote.NoteError{Path: n.Path, Message: verr.Error()})
			continue
		}
		if s.filter.Excluded(n.Path, n.Tags) {
			noteErrs = append(noteErrs, remote.NoteError{Path: n.Path, Message: "excluded by vault rules"})
			continue
		}
		accepted = append(accepted, n)
	}

	if err := s.store.UpsertBatch(accepted); err != nil {
		s.log.Error("sync upsert failed", slog.String("batch_id", req.BatchID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	s.mu.Lock()
	if req.VaultName != "" {
		s.vaultName = req.VaultName
	}
	if req.Final {
		now := time.Now().UTC()
		s.lastSync = &now
	}
	s.mu.Unlock()

	s.log.Info("batch indexed",
		slog.String("batch_id", req.BatchID),
		slog.Int("notes", len(req.Notes)),
		slog.Int("indexed", len(accepted)),
		slog.Bool("final", req.Final))

	writeJSON(w, http.StatusOK, remote.SyncResponse{
		BatchID:   req.BatchID,
		Processed: len(req.Notes),
		Indexed:   len(accepted),
		Errors:    noteErrs,
	})
}

func validateNote(n models.Note) error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.Path, validation.Required),
		validation.Field(&n.ContentHash, validation.Required),
	)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req remote.DeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.Paths, validation.Required),
	); err != nil {
		writeValidationError(w, err)
		return
	}

	removed, err := s.store.Delete(req.Paths)
	if err != nil {
		s.log.Error("delete failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, remote.DeleteResponse{
		Deleted: len(removed),
		Paths:   removed,
	})
}

func (s *Server) handleGetExclusions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.filter.Rules())
}

// handlePutExclusions replaces the rule set and purges any indexed notes the
// new rules exclude.
func (s *Server) handlePutExclusions(w http.ResponseWriter, r *http.Request) {
	var rules models.ExclusionRules
	if err := json.NewDecoder(r.Body).Decode(&rules); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}

	s.filter.Update(rules)

	indexed, err := s.store.PathTags()
	if err != nil {
		s.log.Error("exclusion purge scan failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	var purge []string
	for p, tags := range indexed {
		if s.filter.Excluded(p, tags) {
			purge = append(purge, p)
		}
	}

	removed, err := s.store.Delete(purge)
	if err != nil {
		s.log.Error("exclusion purge failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	s.log.Info("exclusion rules replaced",
		slog.Int("folders", len(s.filter.Rules().Folders)),
		slog.Int("tags", len(s.filter.Rules().Tags)),
		slog.Int("purged", len(removed)))

	writeJSON(w, http.StatusOK, remote.UpdateExclusionsResponse{
		Updated:      true,
		RemovedCount: len(removed),
		RemovedPaths: removed,
	})
}

func (s *Server) handleSchedule(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.currentSchedule(time.Now()))
}

// currentSchedule fills in the next delivery time for an enabled schedule.
func (s *Server) currentSchedule(now time.Time) models.Schedule {
	sched := s.sched
	if !sched.Enabled {
		return sched
	}
	loc := time.UTC
	if sched.Timezone != "" {
		if l, err := time.LoadLocation(sched.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), sched.Hour, sched.Minute, 0, 0, loc)
	if !next.After(local) {
		next = next.Add(24 * time.Hour)
	}
	sched.NextDelivery = &next
	return sched
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, remote.ErrorBody{Error: remote.ErrorDetail{
		Message: msg,
		Code:    code,
	}})
}

// writeValidationError renders field errors in the structured envelope.
func writeValidationError(w http.ResponseWriter, err error) {
	details := make(map[string][]string)
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			details[field] = []string{ferr.Error()}
		}
	}
	writeJSON(w, http.StatusUnprocessableEntity, remote.ErrorBody{Error: remote.ErrorDetail{
		Message: "validation failed",
		Code:    "validation_failed",
		Details: details,
	}})
}
