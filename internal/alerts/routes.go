package alerts

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mediloop/mediloop/internal/store"
)

// RegisterRoutes mounts alert endpoints under /api/alerts.
func RegisterRoutes(r chi.Router, s *Store) {
	r.Route("/api/alerts", func(r chi.Router) {
		r.Get("/", handleList(s))
		r.Get("/subscriptions", handleSubscriptions(s))
		r.Post("/subscriptions", handleSubscribe(s))
		r.Delete("/subscriptions/{id}", handleUnsubscribe(s))
	})
}

func handleList(s *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := ListFilter{SessionID: q.Get("session_id")}
		if v := q.Get("severity"); v != "" {
			filter.Severity = Severity(v)
		}
		if v := q.Get("since"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				filter.Since = &t
			}
		}
		if v := q.Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				filter.Limit = n
			}
		}

		alerts, err := s.List(r.Context(), filter)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if alerts == nil {
			alerts = []Alert{}
		}
		writeJSON(w, http.StatusOK, alerts)
	}
}

func handleSubscriptions(s *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subs, err := s.Subscriptions(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if subs == nil {
			subs = []Subscription{}
		}
		writeJSON(w, http.StatusOK, subs)
	}
}

func handleSubscribe(s *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sub Subscription
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if sub.Name == "" || sub.WebhookURL == "" {
			http.Error(w, "name and webhook_url are required", http.StatusBadRequest)
			return
		}

		created, err := s.Subscribe(r.Context(), sub)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func handleUnsubscribe(s *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := s.Unsubscribe(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
