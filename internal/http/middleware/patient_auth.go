package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wolfman30/portal-scheduling/internal/portal"
)

type contextKey string

const patientKey contextKey = "patient"

// PatientClaims are the session claims issued by the patient portal login.
// The subject is the patient id (cdPessoaFisica).
type PatientClaims struct {
	ClientID    string `json:"client_id"`
	DependentID string `json:"dependent_id,omitempty"`
	InsuranceID string `json:"insurance_id"`
	CardNumber  string `json:"card_number"`
	Age         int    `json:"age"`
	Sex         string `json:"sex"`
	CompanyID   int    `json:"company_id,omitempty"`
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// PatientContext builds the value every scheduling call receives.
func (c PatientClaims) PatientContext() portal.PatientContext {
	return portal.PatientContext{
		PatientID:   c.Subject,
		ClientID:    c.ClientID,
		DependentID: c.DependentID,
		InsuranceID: c.InsuranceID,
		CardNumber:  c.CardNumber,
		Age:         c.Age,
		Sex:         c.Sex,
		CompanyID:   c.CompanyID,
		Name:        c.Name,
		Email:       c.Email,
	}
}

// PatientJWT verifies an HMAC-signed patient token, stores the PatientContext
// in the request context and forwards the raw token to the backend client.
func PatientJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "patient auth disabled", http.StatusUnauthorized)
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(auth, "Bearer ")
			claims := PatientClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			}, jwt.WithExpirationRequired())
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if strings.TrimSpace(claims.Subject) == "" {
				http.Error(w, "token has no patient", http.StatusUnauthorized)
				return
			}
			ctx := WithPatient(r.Context(), claims.PatientContext())
			ctx = portal.WithAccessToken(ctx, tokenString)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithPatient stores the patient in ctx.
func WithPatient(ctx context.Context, p portal.PatientContext) context.Context {
	return context.WithValue(ctx, patientKey, p)
}

// PatientFromContext returns the authenticated patient if present.
func PatientFromContext(ctx context.Context) (portal.PatientContext, bool) {
	p, ok := ctx.Value(patientKey).(portal.PatientContext)
	return p, ok
}
