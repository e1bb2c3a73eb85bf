package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestSigner_IssueAndParse(t *testing.T) {
	s := NewSigner("secret", "rollcall", time.Hour)
	tok, err := s.Issue("user-1", "frizzle", "teacher")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if tok.AccessToken == "" || !tok.ExpiresAt.After(time.Now()) {
		t.Errorf("unexpected token %+v", tok)
	}

	claims, err := s.Parse(tok.AccessToken)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "user-1" || claims.Username != "frizzle" || claims.Role != "teacher" || claims.Issuer != "rollcall" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestSigner_Rejects(t *testing.T) {
	s := NewSigner("secret", "rollcall", time.Hour)
	tok, _ := s.Issue("user-1", "u", "teacher")

	tests := []struct {
		name   string
		signer *Signer
		token  string
	}{
		{name: "wrong key", signer: NewSigner("other", "rollcall", time.Hour), token: tok.AccessToken},
		{name: "wrong issuer", signer: NewSigner("secret", "someone-else", time.Hour), token: tok.AccessToken},
		{name: "garbage", signer: s, token: "not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.signer.Parse(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}

	expired := NewSigner("secret", "rollcall", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _ := expired.Issue("user-1", "u", "teacher")
	if _, err := s.Parse(old.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected expired token to be rejected, got %v", err)
	}
}

func TestPassword(t *testing.T) {
	if _, err := HashPassword("short"); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("expected ErrWeakPassword, got %v", err)
	}
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := CheckPassword(hash, "correct horse"); err != nil {
		t.Errorf("expected match, got %v", err)
	}
	if err := CheckPassword(hash, "battery staple"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestTeacherAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewSigner("secret", "rollcall", time.Hour)
	tok, _ := s.Issue("user-1", "u", "teacher")

	r := gin.New()
	r.GET("/me", TeacherAuth(s), func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, claims.Subject)
	})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing", header: "", status: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "invalid", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + tok.AccessToken, status: http.StatusOK},
		{name: "lowercase scheme", header: "bearer " + tok.AccessToken, status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, w.Code)
			}
			if tt.status == http.StatusOK && w.Body.String() != "user-1" {
				t.Errorf("unexpected body %q", w.Body.String())
			}
		})
	}
}
