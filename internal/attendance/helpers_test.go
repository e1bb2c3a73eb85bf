package attendance

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"rollcall/internal/face"
	"rollcall/internal/objectstore"
	"rollcall/internal/queue"
	"rollcall/internal/store"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := store.NewDB("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewRepository(db.Client)
}

// seedClass creates a teacher and a class owned by them.
func seedClass(t *testing.T, repo *Repository) (User, Class) {
	t.Helper()
	ctx := context.Background()
	u, err := repo.CreateUser(ctx, User{Username: "teacher", Email: "teacher@example.com", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	c, err := repo.CreateClass(ctx, Class{Name: "Biology", TeacherID: u.ID})
	if err != nil {
		t.Fatalf("create class: %v", err)
	}
	return u, c
}

func seedStudent(t *testing.T, repo *Repository, classID, name, code string, enc face.Encoding) Student {
	t.Helper()
	st, err := repo.InsertStudent(context.Background(), Student{Name: name, StudentID: code, ClassID: classID, Encoding: enc})
	if err != nil {
		t.Fatalf("insert student %s: %v", name, err)
	}
	return st
}

// unitEncoding returns an encoding with a single hot component.
func unitEncoding(hot int) face.Encoding {
	enc := make(face.Encoding, face.EncodingSize)
	enc[hot%face.EncodingSize] = 1
	return enc
}

func pngBytes(t *testing.T, w, h int, shade func(x, y int) uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: shade(x, y)})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func stripes(x, y int) uint8 { return uint8((x*11 + y*5) % 256) }
func rings(x, y int) uint8   { return uint8(((x-20)*(x-20) + (y-20)*(y-20)) % 256) }
func blank(int, int) uint8   { return 200 }

type fakeDetector struct {
	faces []face.DetectedFace
	err   error
	calls int
}

func (d *fakeDetector) Detect(context.Context, []byte) ([]face.DetectedFace, error) {
	d.calls++
	return d.faces, d.err
}

func detected(encs ...face.Encoding) []face.DetectedFace {
	out := make([]face.DetectedFace, 0, len(encs))
	for i, enc := range encs {
		out = append(out, face.DetectedFace{
			Box:      face.BoundingBox{Top: 0, Left: i * 10, Bottom: 10, Right: i*10 + 10},
			Encoding: enc,
		})
	}
	return out
}

// countingMatcher records every reference it is asked to match.
type countingMatcher struct {
	face.DistanceMatcher
	mu         sync.Mutex
	references []face.Encoding
}

func (m *countingMatcher) Match(ref face.Encoding, candidates []face.Encoding, tol float64) (bool, float64) {
	m.mu.Lock()
	m.references = append(m.references, ref)
	m.mu.Unlock()
	return m.DistanceMatcher.Match(ref, candidates, tol)
}

var errBucketDown = errors.New("bucket unavailable")

// failingStore rejects every upload.
type failingStore struct {
	*objectstore.Memory
}

func (failingStore) Put(context.Context, string, []byte, string) error {
	return errors.Join(objectstore.ErrUploadFailed, errBucketDown)
}

type capturePublisher struct {
	msgs []string
	err  error
}

func (p *capturePublisher) Publish(_ context.Context, msg queue.Message) error {
	p.msgs = append(p.msgs, string(msg.Body))
	return p.err
}

type recordingObserver struct {
	statuses []string
	present  int
	absent   int
}

func (o *recordingObserver) SessionFinished(status string, _ time.Duration, present, absent int) {
	o.statuses = append(o.statuses, status)
	o.present += present
	o.absent += absent
}

func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func countSessions(t *testing.T, repo *Repository) int {
	t.Helper()
	var n int
	if err := repo.db.QueryRow(`SELECT COUNT(*) FROM attendance_sessions`).Scan(&n); err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	return n
}

func countAllRecords(t *testing.T, repo *Repository) int {
	t.Helper()
	var n int
	if err := repo.db.QueryRow(`SELECT COUNT(*) FROM attendance_records`).Scan(&n); err != nil {
		t.Fatalf("count records: %v", err)
	}
	return n
}
