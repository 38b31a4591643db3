package middleware

import (
	"encoding/gob"
	"net/http"

	"github.com/gorilla/sessions"

	"tikiti/internal/config"
	"tikiti/internal/models"
)

// SessionName is the cookie holding the buyer's cart
const SessionName = "session"

const cartKey = "cart"

func init() {
	gob.Register(models.Cart{})
}

// NewSessionStore creates the cookie store carts are kept in
func NewSessionStore(cfg config.SessionConfig) *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(cfg.Secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	return store
}

// LoadCart returns the cart saved in the session. A missing or unreadable
// session yields an empty cart.
func LoadCart(store sessions.Store, r *http.Request) (models.Cart, *sessions.Session) {
	session, err := store.Get(r, SessionName)
	if err != nil {
		// gorilla returns a fresh session alongside decode errors
		session, _ = store.New(r, SessionName)
	}
	cart, _ := session.Values[cartKey].(models.Cart)
	return cart, session
}

// SaveCart stores the cart in the session
func SaveCart(w http.ResponseWriter, r *http.Request, session *sessions.Session, cart models.Cart) error {
	if cart.IsEmpty() {
		delete(session.Values, cartKey)
	} else {
		session.Values[cartKey] = cart
	}
	return session.Save(r, w)
}
