package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"

	"rollcall/internal/face"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository persists attendance data in Postgres or SQLite. Placeholders
// are numbered in order of appearance so both drivers bind them the same way.
type Repository struct {
	db *sql.DB
	q  querier
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, q: db}
}

// InTx runs fn against a repository bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (r *Repository) InTx(ctx context.Context, fn func(tx *Repository) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Repository{db: r.db, q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// CreateUser inserts a teacher account.
func (r *Repository) CreateUser(ctx context.Context, u User) (User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = RoleTeacher
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.Role, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrDuplicateUser
		}
		return User{}, err
	}
	return u, nil
}

const userColumns = `id, username, email, password_hash, role, created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	return u, err
}

// GetUser fetches a user by id.
func (r *Repository) GetUser(ctx context.Context, id string) (User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	return u, notFound(err, "user")
}

// GetUserByUsername fetches a user for login.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	u, err := scanUser(r.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	return u, notFound(err, "user")
}

// CreateClass inserts a class.
func (r *Repository) CreateClass(ctx context.Context, c Class) (Class, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO classes (id, name, description, teacher_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, c.ID, c.Name, c.Description, c.TeacherID, c.CreatedAt)
	return c, err
}

// GetClass fetches a class by id.
func (r *Repository) GetClass(ctx context.Context, id string) (Class, error) {
	var c Class
	err := r.q.QueryRowContext(ctx, `
		SELECT id, name, description, teacher_id, created_at FROM classes WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Description, &c.TeacherID, &c.CreatedAt)
	return c, notFound(err, "class")
}

// ListClasses returns a teacher's classes ordered by name.
func (r *Repository) ListClasses(ctx context.Context, teacherID string) ([]Class, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, name, description, teacher_id, created_at
		FROM classes WHERE teacher_id = $1
		ORDER BY name, id
	`, teacherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	classes := make([]Class, 0)
	for rows.Next() {
		var c Class
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.TeacherID, &c.CreatedAt); err != nil {
			return nil, err
		}
		classes = append(classes, c)
	}
	return classes, rows.Err()
}

// InsertStudent writes a student row.
func (r *Repository) InsertStudent(ctx context.Context, s Student) (Student, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO students (id, name, student_id, email, class_id, face_encoding, face_image_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.ID, s.Name, s.StudentID, s.Email, s.ClassID, s.Encoding, s.FaceImageKey, s.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Student{}, ErrDuplicateStudentID
		}
		return Student{}, err
	}
	return s, nil
}

const studentColumns = `id, name, student_id, email, class_id, face_encoding, face_image_key, created_at`

func scanStudent(row interface{ Scan(...any) error }) (Student, error) {
	var s Student
	err := row.Scan(&s.ID, &s.Name, &s.StudentID, &s.Email, &s.ClassID, &s.Encoding, &s.FaceImageKey, &s.CreatedAt)
	return s, err
}

// GetStudent fetches a student by id.
func (r *Repository) GetStudent(ctx context.Context, id string) (Student, error) {
	s, err := scanStudent(r.q.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE id = $1`, id))
	return s, notFound(err, "student")
}

// StudentIDExists reports whether a student number is taken.
func (r *Repository) StudentIDExists(ctx context.Context, studentID string) (bool, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM students WHERE student_id = $1`, studentID).Scan(&n)
	return n > 0, err
}

// ListStudents returns the roster of a class ordered by name.
func (r *Repository) ListStudents(ctx context.Context, classID string) ([]Student, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+studentColumns+` FROM students WHERE class_id = $1 ORDER BY name, id
	`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	students := make([]Student, 0)
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		students = append(students, s)
	}
	return students, rows.Err()
}

// CountStudents returns the roster size of a class.
func (r *Repository) CountStudents(ctx context.Context, classID string) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM students WHERE class_id = $1`, classID).Scan(&n)
	return n, err
}

// UpdateStudentFace replaces a student's encoding and photo key.
func (r *Repository) UpdateStudentFace(ctx context.Context, id string, enc face.Encoding, imageKey string) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE students SET face_encoding = $1, face_image_key = $2 WHERE id = $3
	`, enc, imageKey, id)
	if err != nil {
		return err
	}
	return expectRow(res, "student")
}

// DeleteStudent removes a student and, by cascade, their records.
func (r *Repository) DeleteStudent(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectRow(res, "student")
}

func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// InsertSession writes a new session row.
func (r *Repository) InsertSession(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = SessionInProgress
	}
	if s.StartTime.IsZero() {
		s.StartTime = time.Now().UTC()
	}
	if s.SessionDate.IsZero() {
		s.SessionDate = dateOf(s.StartTime)
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.StartTime
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO attendance_sessions (id, class_id, session_date, start_time, end_time, image_key, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.ID, s.ClassID, s.SessionDate, s.StartTime, s.EndTime, s.ImageKey, s.Status, s.CreatedAt)
	return s, err
}

// FinishSession sets the terminal status, end time and image key.
func (r *Repository) FinishSession(ctx context.Context, id, status string, end time.Time, imageKey string) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE attendance_sessions SET status = $1, end_time = $2, image_key = $3 WHERE id = $4
	`, status, end, imageKey, id)
	if err != nil {
		return err
	}
	return expectRow(res, "session")
}

const sessionColumns = `s.id, s.class_id, s.session_date, s.start_time, s.end_time, s.image_key, s.status, s.created_at`

func scanSession(row interface{ Scan(...any) error }, extra ...any) (Session, error) {
	var (
		s   Session
		end sql.NullTime
	)
	dest := append([]any{&s.ID, &s.ClassID, &s.SessionDate, &s.StartTime, &end, &s.ImageKey, &s.Status, &s.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Session{}, err
	}
	if end.Valid {
		t := end.Time
		s.EndTime = &t
	}
	return s, nil
}

// GetSession fetches a session by id.
func (r *Repository) GetSession(ctx context.Context, id string) (Session, error) {
	s, err := scanSession(r.q.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM attendance_sessions s WHERE s.id = $1`, id))
	return s, notFound(err, "session")
}

// SessionFilter narrows session listings. Zero values mean "no bound".
type SessionFilter struct {
	ClassID   string
	TeacherID string
	From      time.Time
	To        time.Time
	Limit     int
}

// ListSessions returns session summaries, most recent first.
func (r *Repository) ListSessions(ctx context.Context, f SessionFilter) ([]SessionSummary, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.TeacherID != "" {
		add("c.teacher_id = $%d", f.TeacherID)
	}
	if f.ClassID != "" {
		add("s.class_id = $%d", f.ClassID)
	}
	if !f.From.IsZero() {
		add("s.session_date >= $%d", dateOf(f.From))
	}
	if !f.To.IsZero() {
		add("s.session_date <= $%d", dateOf(f.To))
	}

	query := `
		SELECT ` + sessionColumns + `, c.name,
			COALESCE(SUM(CASE WHEN r.status = 'present' THEN 1 ELSE 0 END), 0),
			COUNT(r.id)
		FROM attendance_sessions s
		JOIN classes c ON c.id = s.class_id
		LEFT JOIN attendance_records r ON r.session_id = s.id`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += `
		GROUP BY s.id, s.class_id, s.session_date, s.start_time, s.end_time, s.image_key, s.status, s.created_at, c.name
		ORDER BY s.session_date DESC, s.start_time DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf("\n\t\tLIMIT $%d", len(args))
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]SessionSummary, 0)
	for rows.Next() {
		var sum SessionSummary
		s, err := scanSession(rows, &sum.ClassName, &sum.PresentCount, &sum.TotalCount)
		if err != nil {
			return nil, err
		}
		sum.Session = s
		out = append(out, sum)
	}
	return out, rows.Err()
}

// InsertRecord writes one attendance record.
func (r *Repository) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO attendance_records (id, session_id, student_id, status, confidence, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.SessionID, rec.StudentID, rec.Status, rec.Confidence, rec.RecordedAt)
	return rec, err
}

// ListRecords returns a session's records joined with student names, ordered by name.
func (r *Repository) ListRecords(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT r.id, r.session_id, r.student_id, st.name, st.student_id, r.status, r.confidence, r.recorded_at
		FROM attendance_records r
		JOIN students st ON st.id = r.student_id
		WHERE r.session_id = $1
		ORDER BY st.name, st.id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.StudentID, &rec.StudentName, &rec.StudentCode,
			&rec.Status, &rec.Confidence, &rec.RecordedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountRecords returns the number of records of a session.
func (r *Repository) CountRecords(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM attendance_records WHERE session_id = $1`, sessionID).Scan(&n)
	return n, err
}

// ClassRecords returns every record of a class's completed sessions within
// the optional date range.
func (r *Repository) ClassRecords(ctx context.Context, classID string, from, to time.Time) ([]RecordRow, error) {
	args := []any{classID, SessionCompleted}
	query := `
		SELECT s.id, s.session_date, r.student_id, r.status
		FROM attendance_records r
		JOIN attendance_sessions s ON s.id = r.session_id
		WHERE s.class_id = $1 AND s.status = $2`
	if !from.IsZero() {
		args = append(args, dateOf(from))
		query += fmt.Sprintf(" AND s.session_date >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, dateOf(to))
		query += fmt.Sprintf(" AND s.session_date <= $%d", len(args))
	}
	query += ` ORDER BY s.session_date, s.id`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]RecordRow, 0)
	for rows.Next() {
		var row RecordRow
		if err := rows.Scan(&row.SessionID, &row.SessionDate, &row.StudentID, &row.Status); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
