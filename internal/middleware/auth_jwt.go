package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"photojobs/internal/domain"
)

var (
	errMalformedToken   = errors.New("invalid token")
	errInvalidSignature = errors.New("invalid signature")
	errTokenExpired     = errors.New("token expired")
)

type TokenClaims struct {
	Sub      string `json:"sub"`
	Role     string `json:"role,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
	IssuedAt int64  `json:"iat,omitempty"`
	Issuer   string `json:"iss,omitempty"`
	Audience string `json:"aud,omitempty"`
}

type tokenHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

type principalKey struct{}

func SignJWT(secret string, claims TokenClaims) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is empty")
	}
	headerJSON, err := json.Marshal(tokenHeader{Alg: "HS256", Typ: "JWT"})
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	data := base64.RawURLEncoding.EncodeToString(headerJSON) + "." + base64.RawURLEncoding.EncodeToString(payloadJSON)
	return data + "." + hmacSign(secret, data), nil
}

func hmacSign(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyJWT accepts only HS256 tokens signed with secret.
func VerifyJWT(secret, token string, now time.Time) (*TokenClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, errMalformedToken
	}
	headerJSON, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, errMalformedToken
	}
	var header tokenHeader
	if err := json.Unmarshal(headerJSON, &header); err != nil || header.Alg != "HS256" {
		return nil, errMalformedToken
	}
	expected := hmacSign(secret, parts[0]+"."+parts[1])
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return nil, errInvalidSignature
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errMalformedToken
	}
	var claims TokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, errMalformedToken
	}
	if claims.Exp != 0 && now.Unix() > claims.Exp {
		return nil, errTokenExpired
	}
	if strings.TrimSpace(claims.Sub) == "" {
		return nil, errMalformedToken
	}
	return &claims, nil
}

// Authenticate resolves an optional bearer token into a principal. Requests
// without an Authorization header pass through with the zero principal;
// a header that does not verify is rejected with 401.
func Authenticate(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}
			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "invalid authorization header")
				return
			}
			claims, err := VerifyJWT(secret, strings.TrimSpace(token), time.Now())
			if err != nil {
				LoggerFromContext(r.Context()).Debug().Err(err).Msg("bearer token rejected")
				writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", err.Error())
				return
			}
			principal := domain.Principal{ID: claims.Sub, Role: domain.ParseRole(claims.Role)}
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

func PrincipalFromContext(ctx context.Context) domain.Principal {
	if v, ok := ctx.Value(principalKey{}).(domain.Principal); ok {
		return v
	}
	return domain.Principal{}
}

func ContextWithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	if p.IsZero() {
		return ctx
	}
	return context.WithValue(ctx, principalKey{}, p)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
