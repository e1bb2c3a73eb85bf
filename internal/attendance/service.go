package attendance

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"rollcall/internal/face"
	"rollcall/internal/objectstore"
)

// Service coordinates classes, students and session lookups.
type Service struct {
	repo      *Repository
	store     objectstore.Store
	encoder   face.Encoder
	urlExpiry time.Duration
	cache     Invalidator
	now       func() time.Time
}

// Invalidator drops cached views derived from a class roster.
type Invalidator interface {
	InvalidateClass(ctx context.Context, classID, teacherID string)
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithInvalidator is told whenever a class or its roster changes.
func WithInvalidator(inv Invalidator) ServiceOption {
	return func(s *Service) { s.cache = inv }
}

// NewService creates a service backed by a repository.
func NewService(repo *Repository, store objectstore.Store, encoder face.Encoder, urlExpiry time.Duration, opts ...ServiceOption) *Service {
	if urlExpiry <= 0 {
		urlExpiry = time.Hour
	}
	s := &Service{
		repo:      repo,
		store:     store,
		encoder:   encoder,
		urlExpiry: urlExpiry,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) invalidate(ctx context.Context, c Class) {
	if s.cache != nil {
		s.cache.InvalidateClass(ctx, c.ID, c.TeacherID)
	}
}

// Repository exposes the underlying repository.
func (s *Service) Repository() *Repository { return s.repo }

// StudentInput is the payload for RegisterStudent.
type StudentInput struct {
	ClassID   string
	Name      string
	StudentID string
	Email     string
	Photo     []byte
	Filename  string
}

// CreateClass validates and persists a class owned by teacherID.
func (s *Service) CreateClass(ctx context.Context, teacherID, name, description string) (Class, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Class{}, fmt.Errorf("%w: class name is required", ErrValidation)
	}
	if teacherID == "" {
		return Class{}, fmt.Errorf("%w: teacher is required", ErrValidation)
	}
	c, err := s.repo.CreateClass(ctx, Class{Name: name, Description: strings.TrimSpace(description), TeacherID: teacherID})
	if err != nil {
		return Class{}, err
	}
	s.invalidate(ctx, c)
	return c, nil
}

// ClassForTeacher loads a class and checks ownership. Classes owned by
// someone else are reported as not found.
func (s *Service) ClassForTeacher(ctx context.Context, classID string, user User) (Class, error) {
	c, err := s.repo.GetClass(ctx, classID)
	if err != nil {
		return Class{}, err
	}
	if user.Role != RoleAdmin && c.TeacherID != user.ID {
		return Class{}, fmt.Errorf("class: %w", ErrNotFound)
	}
	return c, nil
}

// RegisterStudent enrols a student, optionally with a reference photo.
// A photo must contain a face; its encoding and object key are stored
// with the student.
func (s *Service) RegisterStudent(ctx context.Context, in StudentInput) (Student, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.StudentID = strings.TrimSpace(in.StudentID)
	in.Email = strings.TrimSpace(in.Email)
	if in.Name == "" || in.StudentID == "" || in.ClassID == "" {
		return Student{}, fmt.Errorf("%w: name, student id and class are required", ErrValidation)
	}
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			return Student{}, fmt.Errorf("%w: invalid email", ErrValidation)
		}
	}
	class, err := s.repo.GetClass(ctx, in.ClassID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Student{}, ErrInvalidClass
		}
		return Student{}, err
	}
	exists, err := s.repo.StudentIDExists(ctx, in.StudentID)
	if err != nil {
		return Student{}, err
	}
	if exists {
		return Student{}, ErrDuplicateStudentID
	}

	st := Student{
		ID:        uuid.NewString(),
		Name:      in.Name,
		StudentID: in.StudentID,
		Email:     in.Email,
		ClassID:   in.ClassID,
		CreatedAt: s.now(),
	}
	if len(in.Photo) > 0 {
		enc, key, err := s.enrolPhoto(ctx, in.StudentID, in.Photo, in.Filename)
		if err != nil {
			return Student{}, err
		}
		st.Encoding, st.FaceImageKey = enc, key
	}

	saved, err := s.repo.InsertStudent(ctx, st)
	if err != nil {
		s.dropPhoto(ctx, st.FaceImageKey)
		return Student{}, err
	}
	s.invalidate(ctx, class)
	logrus.WithFields(logrus.Fields{"student_id": saved.ID, "class_id": saved.ClassID, "has_face": saved.HasEncoding()}).
		Info("student registered")
	return saved, nil
}

// UpdateStudentPhoto re-enrols a student's reference photo and removes the old one.
func (s *Service) UpdateStudentPhoto(ctx context.Context, id string, photo []byte, filename string) (Student, error) {
	if len(photo) == 0 {
		return Student{}, fmt.Errorf("%w: no photo provided", ErrValidation)
	}
	st, err := s.repo.GetStudent(ctx, id)
	if err != nil {
		return Student{}, err
	}
	enc, key, err := s.enrolPhoto(ctx, st.StudentID, photo, filename)
	if err != nil {
		return Student{}, err
	}
	if err := s.repo.UpdateStudentFace(ctx, st.ID, enc, key); err != nil {
		s.dropPhoto(ctx, key)
		return Student{}, err
	}
	if st.FaceImageKey != "" && st.FaceImageKey != key {
		s.dropPhoto(ctx, st.FaceImageKey)
	}
	st.Encoding, st.FaceImageKey = enc, key
	return st, nil
}

// DeleteStudent removes a student, their records and their photo.
func (s *Service) DeleteStudent(ctx context.Context, id string) error {
	st, err := s.repo.GetStudent(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteStudent(ctx, id); err != nil {
		return err
	}
	s.dropPhoto(ctx, st.FaceImageKey)
	if class, err := s.repo.GetClass(ctx, st.ClassID); err == nil {
		s.invalidate(ctx, class)
	} else {
		logrus.WithError(err).WithField("class_id", st.ClassID).Warn("could not load class for cache invalidation")
	}
	return nil
}

func (s *Service) enrolPhoto(ctx context.Context, studentID string, photo []byte, filename string) (face.Encoding, string, error) {
	enc, err := s.encoder.Encode(ctx, photo)
	switch {
	case errors.Is(err, face.ErrNoFace):
		return nil, "", ErrNoFaceDetected
	case errors.Is(err, face.ErrDecode):
		return nil, "", fmt.Errorf("%w: invalid image", ErrValidation)
	case err != nil:
		return nil, "", fmt.Errorf("encode photo: %w", err)
	}

	key := objectstore.StudentPhotoKey(studentID, s.now())
	if err := s.store.Put(ctx, key, photo, objectstore.ContentType(filename)); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("student photo upload failed")
		return nil, "", ErrUploadFailed
	}
	return enc, key, nil
}

func (s *Service) dropPhoto(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if _, err := s.store.Delete(ctx, key); err != nil {
		logrus.WithError(err).WithField("key", key).Warn("could not delete student photo")
	}
}

// SessionView is a session with its records and a time-limited photo URL.
type SessionView struct {
	Session  Session  `json:"session"`
	Class    Class    `json:"class"`
	Records  []Record `json:"records"`
	Present  int      `json:"present_count"`
	ImageURL string   `json:"image_url,omitempty"`
}

// ViewSession loads a session for display.
func (s *Service) ViewSession(ctx context.Context, id string, user User) (SessionView, error) {
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	class, err := s.ClassForTeacher(ctx, sess.ClassID, user)
	if err != nil {
		return SessionView{}, fmt.Errorf("session: %w", ErrNotFound)
	}
	records, err := s.repo.ListRecords(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	view := SessionView{Session: sess, Class: class, Records: records}
	for _, r := range records {
		if r.Status == StatusPresent {
			view.Present++
		}
	}
	if sess.ImageKey != "" {
		url, err := s.store.URLFor(ctx, sess.ImageKey, s.urlExpiry)
		if err != nil {
			logrus.WithError(err).WithField("session_id", id).Warn("could not sign classroom photo url")
		} else {
			view.ImageURL = url
		}
	}
	return view, nil
}

// StudentPhotoURL returns a time-limited URL for a student's reference photo.
func (s *Service) StudentPhotoURL(ctx context.Context, st Student) (string, error) {
	if st.FaceImageKey == "" {
		return "", fmt.Errorf("photo: %w", ErrNotFound)
	}
	return s.store.URLFor(ctx, st.FaceImageKey, s.urlExpiry)
}
