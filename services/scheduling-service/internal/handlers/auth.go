package handlers

import (
	"net/http"
	"strconv"

	"github.com/qkeluna/qclickin/libs/auth"
)

// hostFromRequest verifies the bearer token and returns the authenticated
// host id. It writes the 401 itself so callers can just return on !ok.
func hostFromRequest(w http.ResponseWriter, r *http.Request, secret string) (int64, *auth.Claims, bool) {
	token, ok := auth.BearerToken(r)
	if !ok {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return 0, nil, false
	}
	claims, err := auth.ParseAndVerifyHS256(token, secret)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return 0, nil, false
	}
	hostID, err := strconv.ParseInt(claims.Sub, 10, 64)
	if err != nil || hostID <= 0 {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return 0, nil, false
	}
	return hostID, claims, true
}
