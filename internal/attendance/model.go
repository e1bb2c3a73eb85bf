package attendance

import (
	"errors"
	"time"

	"rollcall/internal/face"
)

// Session statuses.
const (
	SessionInProgress = "in_progress"
	SessionProcessing = "processing"
	SessionCompleted  = "completed"
	SessionFailed     = "failed"
)

// Record statuses.
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
	StatusLate    = "late"
)

// User roles.
const (
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrInvalidClass       = errors.New("invalid class")
	ErrDuplicateStudentID = errors.New("student id already exists")
	ErrDuplicateUser      = errors.New("username or email already exists")
	ErrNoFaceDetected     = errors.New("no face detected in image")
	ErrUploadFailed       = errors.New("failed to upload image")
	// ErrInternal hides processing failures from callers; details are logged.
	ErrInternal = errors.New("an error occurred while processing attendance")
)

// User is a teacher account.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Class groups students under a teacher.
type Class struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	TeacherID   string    `json:"teacher_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Student is enrolled in exactly one class. Encoding is nil until a photo
// with a detectable face has been registered.
type Student struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	StudentID    string        `json:"student_id"`
	Email        string        `json:"email"`
	ClassID      string        `json:"class_id"`
	Encoding     face.Encoding `json:"-"`
	FaceImageKey string        `json:"face_image_key,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// HasEncoding reports whether the student can be matched.
func (s Student) HasEncoding() bool { return len(s.Encoding) > 0 }

// Session is one attendance-taking event for a class.
type Session struct {
	ID          string     `json:"id"`
	ClassID     string     `json:"class_id"`
	SessionDate time.Time  `json:"session_date"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	ImageKey    string     `json:"image_key,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Record is the outcome for one student within one session.
type Record struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	StudentID   string    `json:"student_id"`
	StudentName string    `json:"student_name,omitempty"`
	StudentCode string    `json:"student_code,omitempty"`
	Status      string    `json:"status"`
	Confidence  float64   `json:"confidence"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// SessionSummary is a session with its present/total counts.
type SessionSummary struct {
	Session
	ClassName    string `json:"class_name"`
	PresentCount int    `json:"present_count"`
	TotalCount   int    `json:"total_count"`
}

// RecordRow is one record of a class, used to build reports.
type RecordRow struct {
	SessionID   string
	SessionDate time.Time
	StudentID   string
	Status      string
}

// SessionResult is returned by TakeAttendance.
type SessionResult struct {
	SessionID           string   `json:"session_id"`
	Status              string   `json:"status"`
	PresentStudentNames []string `json:"present_students"`
	RecordCount         int      `json:"record_count"`
	FacesDetected       int      `json:"faces_detected"`
	Warning             string   `json:"warning,omitempty"`
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
