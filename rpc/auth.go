package rpc

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	// AuthTokenEnv names the environment variable holding the static bearer
	// token accepted for administrative methods.
	AuthTokenEnv = "DATALAYR_RPC_TOKEN"
	// JWTSecretEnv names the environment variable holding the HMAC secret
	// for administrative JWTs.
	JWTSecretEnv = "DATALAYR_RPC_JWT_SECRET"
	// AdminScope must appear in the scope claim of an administrative JWT.
	AdminScope = "datalayr:admin"

	jwtLeeway = 2 * time.Minute
)

var (
	errInsufficientScope = errors.New("token lacks " + AdminScope + " scope")
	errNoScope           = errors.New("token has no scope claim")
)

type authenticator struct {
	token     []byte
	jwtSecret []byte
}

func newAuthenticator(token, jwtSecret string) authenticator {
	return authenticator{
		token:     []byte(strings.TrimSpace(token)),
		jwtSecret: []byte(strings.TrimSpace(jwtSecret)),
	}
}

func (a authenticator) configured() bool {
	return len(a.token) > 0 || len(a.jwtSecret) > 0
}

// requireAuth accepts either the static token or an HS256 JWT carrying the
// admin scope.
func (s *Server) requireAuth(r *http.Request) *RPCError {
	if !s.auth.configured() {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	scheme, credential, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if len(s.auth.token) > 0 && subtle.ConstantTimeCompare([]byte(credential), s.auth.token) == 1 {
		return nil
	}
	if len(s.auth.jwtSecret) > 0 {
		err := s.auth.verifyJWT(credential)
		if err == nil {
			return nil
		}
		if errors.Is(err, errInsufficientScope) || errors.Is(err, errNoScope) {
			return &RPCError{Code: codeUnauthorized, Message: "insufficient scope", Data: err.Error()}
		}
	}
	return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
}

func (a authenticator) verifyJWT(raw string) error {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		return a.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(jwtLeeway),
	)
	if err != nil {
		return err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return errors.New("unexpected claims type")
	}
	scopes := scopesOf(claims["scope"])
	if len(scopes) == 0 {
		return errNoScope
	}
	for _, scope := range scopes {
		if scope == AdminScope {
			return nil
		}
	}
	return errInsufficientScope
}

// scopesOf accepts both the space separated string form and a JSON array.
func scopesOf(raw interface{}) []string {
	switch v := raw.(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
