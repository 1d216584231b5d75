package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/scheduler"
)

const (
	defaultChangeLimit = 100
	maxChangeLimit     = 1000
)

type enqueueRequest struct {
	URL       string `json:"url"`
	ListingID string `json:"listing_id"`
	Priority  int    `json:"priority"`
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url required")
		return
	}
	if _, err := crawler.NormalizeURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.deps.Queue.Enqueue(r.Context(), []scheduler.Seed{{
		URL:       req.URL,
		ListingID: strings.TrimSpace(req.ListingID),
		Priority:  req.Priority,
	}})
	if err != nil {
		s.internalError(w, "enqueue", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"enqueued": n})
}

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Queue.Stats(r.Context())
	if err != nil {
		s.internalError(w, "queue stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listBlooms(w http.ResponseWriter, r *http.Request) {
	filters, err := s.deps.Blooms.List(r.Context())
	if err != nil {
		s.internalError(w, "list bloom filters", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"filters": filters})
}

func (s *Server) bloomStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Blooms.Stats(r.Context(), chi.URLParam(r, "name"))
	if errors.Is(err, crawler.ErrNotFound) {
		writeError(w, http.StatusNotFound, "bloom filter not found")
		return
	}
	if err != nil {
		s.internalError(w, "bloom stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type bloomCheckRequest struct {
	Item string `json:"item"`
}

func (s *Server) bloomCheck(w http.ResponseWriter, r *http.Request) {
	var req bloomCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Item == "" {
		writeError(w, http.StatusBadRequest, "item required")
		return
	}
	name := chi.URLParam(r, "name")
	present, err := s.deps.Blooms.Check(r.Context(), name, req.Item)
	if err != nil {
		s.internalError(w, "bloom check", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "item": req.Item, "present": present})
}

type bloomAddRequest struct {
	Items  []string `json:"items"`
	Source string   `json:"source"`
}

func (s *Server) bloomAdd(w http.ResponseWriter, r *http.Request) {
	var req bloomAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items required")
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}
	name := chi.URLParam(r, "name")
	added, err := s.deps.Blooms.Import(r.Context(), name, req.Items, req.Source)
	if err != nil {
		s.internalError(w, "bloom add", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "added": added})
}

func (s *Server) bloomRebuild(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Blooms.Rebuild(r.Context(), chi.URLParam(r, "name"))
	if errors.Is(err, crawler.ErrNotFound) {
		writeError(w, http.StatusNotFound, "bloom filter not found")
		return
	}
	if err != nil {
		s.internalError(w, "bloom rebuild", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listChanges(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultChangeLimit, maxChangeLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	listingID := chi.URLParam(r, "listing_id")
	changes, err := s.deps.Listings.ListChanges(r.Context(), listingID, limit)
	if err != nil {
		s.internalError(w, "list changes", err)
		return
	}
	if changes == nil {
		changes = []crawler.ChangeRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"listing_id": listingID, "changes": changes})
}

type blacklistRequest struct {
	Domain string `json:"domain"`
	Reason string `json:"reason"`
}

func (s *Server) addBlacklist(w http.ResponseWriter, r *http.Request) {
	var req blacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	domain := strings.ToLower(strings.TrimSpace(req.Domain))
	if domain == "" {
		writeError(w, http.StatusBadRequest, "domain required")
		return
	}
	entry := crawler.BlacklistEntry{
		Domain:    domain,
		Reason:    req.Reason,
		CreatedAt: s.deps.Clock.Now(),
	}
	if err := s.deps.Listings.AddBlacklist(r.Context(), entry); err != nil {
		s.internalError(w, "add blacklist", err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("request failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, nil
}
