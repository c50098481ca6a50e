package httpserver

import (
	"net/http"

	"github.com/anvil-ha/anvil/pkg/lock"
)

// LockStatusHandler reports the current cluster-wide advisory lock holder
// (§4.H) without taking any action on it.
func LockStatusHandler(mgr *lock.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := mgr.Status(r.Context())
		if err != nil {
			RespondError(w, http.StatusBadGateway, "query_failed", err.Error())
			return
		}
		Respond(w, http.StatusOK, status)
	}
}
