package session

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// OwnerCookie identifies the browser that owns the stored sessions.
const OwnerCookie = "draft_browser"

// Owner returns the browser id carried by r, or "" when there is none.
func Owner(r *http.Request) string {
	c, err := r.Cookie(OwnerCookie)
	if err != nil {
		return ""
	}
	if _, err := uuid.Parse(c.Value); err != nil {
		return ""
	}
	return c.Value
}

// EnsureOwner returns the browser id of r, minting one and setting the
// cookie on w when missing.
func EnsureOwner(w http.ResponseWriter, r *http.Request) string {
	if id := Owner(r); id != "" {
		return id
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     OwnerCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(TeamTTL / time.Second),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	// Later reads of this request see the new id.
	r.AddCookie(&http.Cookie{Name: OwnerCookie, Value: id})
	return id
}
