// Package handler exposes the attendance API over HTTP with gin.
package handler

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/report"
)

// Handler holds the services behind the HTTP routes.
type Handler struct {
	svc       *attendance.Service
	workflow  *attendance.Workflow
	reports   *report.Builder
	signer    *auth.Signer
	maxUpload int64
}

// New creates a handler. maxUpload caps photo sizes in bytes.
func New(svc *attendance.Service, workflow *attendance.Workflow, reports *report.Builder, signer *auth.Signer, maxUpload int64) *Handler {
	if maxUpload <= 0 {
		maxUpload = 20 << 20
	}
	return &Handler{svc: svc, workflow: workflow, reports: reports, signer: signer, maxUpload: maxUpload}
}

// Register mounts every API route under r.
func (h *Handler) Register(r gin.IRouter) {
	v1 := r.Group("/api/v1")
	v1.POST("/auth/register", h.registerTeacher)
	v1.POST("/auth/login", h.login)

	authed := v1.Group("", auth.TeacherAuth(h.signer))
	authed.GET("/me", h.me)
	authed.GET("/dashboard", h.dashboard)

	authed.GET("/classes", h.listClasses)
	authed.POST("/classes", h.createClass)
	authed.GET("/classes/:id", h.getClass)
	authed.GET("/classes/:id/students", h.listStudents)
	authed.POST("/classes/:id/students", h.registerStudent)
	authed.POST("/classes/:id/attendance", h.takeAttendance)
	authed.GET("/classes/:id/sessions", h.listSessions)
	authed.GET("/classes/:id/report", h.classReport)

	authed.GET("/students/:id", h.getStudent)
	authed.PUT("/students/:id/photo", h.updateStudentPhoto)
	authed.DELETE("/students/:id", h.deleteStudent)

	authed.GET("/sessions/:id", h.getSession)
}

func currentUser(c *gin.Context) attendance.User {
	claims, _ := auth.ClaimsFrom(c)
	return attendance.User{ID: claims.Subject, Username: claims.Username, Role: claims.Role}
}

// writeError maps domain errors to status codes. Unknown errors are logged
// and reported generically.
func writeError(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, attendance.ErrValidation), errors.Is(err, auth.ErrWeakPassword):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, attendance.ErrInvalidClass):
		status, msg = http.StatusBadRequest, "invalid class selection"
	case errors.Is(err, auth.ErrInvalidCredentials):
		status, msg = http.StatusUnauthorized, err.Error()
	case errors.Is(err, attendance.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	case errors.Is(err, attendance.ErrDuplicateStudentID), errors.Is(err, attendance.ErrDuplicateUser):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, attendance.ErrNoFaceDetected):
		status, msg = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, attendance.ErrUploadFailed):
		status, msg = http.StatusBadGateway, err.Error()
	case errors.Is(err, attendance.ErrInternal):
		msg = err.Error()
	default:
		logrus.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg})
}

// readPhoto returns the uploaded file in field, or nil when absent.
func (h *Handler) readPhoto(c *gin.Context, field string) ([]byte, string, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("%w: %v", attendance.ErrValidation, err)
	}
	if fh.Size > h.maxUpload {
		return nil, "", fmt.Errorf("%w: photo exceeds %d bytes", attendance.ErrValidation, h.maxUpload)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.maxUpload+1))
	if err != nil {
		return nil, "", err
	}
	return data, fh.Filename, nil
}

// decodeDataURL accepts raw base64 or a "data:image/...;base64," URL.
func decodeDataURL(s string) ([]byte, error) {
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 image", attendance.ErrValidation)
	}
	return data, nil
}

func parseDate(c *gin.Context, key string) (time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", attendance.ErrValidation, key)
	}
	return t, nil
}
