package jwt

import (
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionToken is the cookie token this backend mints once a user has been
// identified by the external login provider.
type SessionToken struct {
	UserID   int64 `json:"userID"`
	Remember bool  `json:"rem"`
	jwt.RegisteredClaims
}

// IdentityClaims is what the external OpenID-style provider asserts about a
// user. Subject (in RegisteredClaims) is the provider-side stable ID.
type IdentityClaims struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Picture    string `json:"picture"`
	jwt.RegisteredClaims
}

type Tokens struct {
	sessionSecret  []byte
	identitySecret []byte
	isHttps        bool
}

func New(sessionSecret string, identitySecret string, isHttps bool) *Tokens {
	return &Tokens{
		sessionSecret:  []byte(sessionSecret),
		identitySecret: []byte(identitySecret),
		isHttps:        isHttps,
	}
}

func (t *Tokens) CreateSession(rememberMe bool, userID int64) (http.Cookie, error) {
	var tokenLifeTime time.Duration
	if rememberMe {
		tokenLifeTime = time.Hour * 24 * 7 * 4 // 4 weeks
	} else {
		tokenLifeTime = time.Hour * 24 // 1 day
	}

	currentTime := time.Now().UTC()
	expirationDate := currentTime.Add(tokenLifeTime)

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, SessionToken{
		UserID:   userID,
		Remember: rememberMe,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(currentTime),
			ExpiresAt: jwt.NewNumericDate(expirationDate),
		},
	})

	tokenString, err := token.SignedString(t.sessionSecret)
	if err != nil {
		return http.Cookie{}, err
	}

	cookie := http.Cookie{
		Name:     "JWT",
		Value:    tokenString,
		Path:     "/",
		HttpOnly: true,
		Secure:   t.isHttps,
		SameSite: http.SameSiteLaxMode,
	}

	if rememberMe {
		cookie.Expires = expirationDate
	}

	return cookie, nil
}

func (t *Tokens) VerifySession(tokenString string) (SessionToken, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionToken{}, func(token *jwt.Token) (interface{}, error) {
		return t.sessionSecret, nil
	})
	if err != nil {
		return SessionToken{}, err
	} else if claims, ok := token.Claims.(*SessionToken); ok {
		return *claims, nil
	} else {
		return SessionToken{}, errors.New("invalid token")
	}
}

// VerifyIdentity checks a token minted by the login provider. The provider
// shares an HS512 secret with this backend.
func (t *Tokens) VerifyIdentity(tokenString string) (IdentityClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &IdentityClaims{}, func(token *jwt.Token) (interface{}, error) {
		return t.identitySecret, nil
	})
	if err != nil {
		return IdentityClaims{}, err
	}

	claims, ok := token.Claims.(*IdentityClaims)
	if !ok {
		return IdentityClaims{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return IdentityClaims{}, errors.New("identity token has no subject")
	}

	return *claims, nil
}
