package audit

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/kilianp07/parlock/core/audit"
)

// Path is where the handler is mounted.
const Path = "/api/audit"

// NewHandler returns an HTTP handler exposing the transaction trail via
// GET /api/audit?start=&end=&unit_id=. Times are RFC 3339. Requests must
// include an Authorization header with "Bearer <token>" when token is
// non-empty.
func NewHandler(store audit.Store, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		q := audit.Query{UnitID: r.URL.Query().Get("unit_id")}
		for key, dst := range map[string]*time.Time{"start": &q.Start, "end": &q.End} {
			s := r.URL.Query().Get(key)
			if s == "" {
				continue
			}
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				http.Error(w, "bad "+key+": "+err.Error(), http.StatusBadRequest)
				return
			}
			*dst = t
		}
		records, err := store.Query(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []audit.Record{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(records); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
