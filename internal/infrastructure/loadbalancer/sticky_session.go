package loadbalancer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const affinityCookie = "pairlink_affinity"

// PeerAffinity issues a signed cookie carrying the hub instance id. A
// cookie-aware balancer can then route a reconnecting peer back to the
// instance that still holds its connection state, which keeps the fast
// reconnect path off the cross-instance relay.
type PeerAffinity struct {
	secret     []byte
	instanceID string
	maxAge     int
}

func NewPeerAffinity(secret, instanceID string, maxAge int) *PeerAffinity {
	return &PeerAffinity{
		secret:     []byte(secret),
		instanceID: instanceID,
		maxAge:     maxAge,
	}
}

// Middleware stamps responses with the affinity cookie. A valid cookie that
// already names this instance is left alone; anything else is reissued.
func (a *PeerAffinity) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if instance, ok := a.instanceFromRequest(c.Request); !ok || instance != a.instanceID {
			a.setCookie(c.Writer)
		}
		c.Next()
	}
}

// instanceFromRequest returns the instance id from a validly signed affinity
// cookie.
func (a *PeerAffinity) instanceFromRequest(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(affinityCookie)
	if err != nil || cookie.Value == "" {
		return "", false
	}

	parts := strings.Split(cookie.Value, ".")
	if len(parts) != 2 {
		return "", false
	}
	if !hmac.Equal([]byte(parts[1]), []byte(a.sign(parts[0]))) {
		return "", false
	}
	return parts[0], true
}

func (a *PeerAffinity) setCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     affinityCookie,
		Value:    a.instanceID + "." + a.sign(a.instanceID),
		Path:     "/",
		MaxAge:   a.maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *PeerAffinity) sign(value string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
