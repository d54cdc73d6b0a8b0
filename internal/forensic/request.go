package forensic

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/meridian-qms/meridian/internal/shared"
)

// ContextFromRequest derives a basic forensic context for the session user
// behind an HTTP request. Device and IP prefer the values captured at login;
// the current request fills any gap.
func ContextFromRequest(r *http.Request, reason, notes string) (Context, error) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == "" {
		return Context{}, fmt.Errorf("forensic: no authenticated session: %w", shared.ErrValidationFailure)
	}
	actorID, err := strconv.ParseInt(sess.User(), 10, 64)
	if err != nil {
		return Context{}, fmt.Errorf("forensic: malformed session user %q: %w", sess.User(), shared.ErrValidationFailure)
	}

	ip := sess.IP()
	if ip == "" {
		ip = r.RemoteAddr
	}
	device := sess.Device()
	if device == "" {
		device = DescribeDevice(r.UserAgent())
	}
	return New(actorID, ip, device, sess.ID, reason, notes)
}
