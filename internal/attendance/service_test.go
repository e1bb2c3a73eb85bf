package attendance

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"rollcall/internal/face"
	"rollcall/internal/objectstore"
)

func newTestService(t *testing.T) (*Service, *objectstore.Memory, Class, User) {
	t.Helper()
	repo := newTestRepo(t)
	user, class := seedClass(t, repo)
	mem := objectstore.NewMemory("https://photos.test")
	svc := NewService(repo, mem, face.SignatureEncoder{}, time.Hour)
	svc.now = fixedClock(time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC))
	return svc, mem, class, user
}

func TestRegisterStudent_WithPhoto(t *testing.T) {
	svc, mem, class, _ := newTestService(t)
	ctx := context.Background()

	st, err := svc.RegisterStudent(ctx, StudentInput{
		ClassID:   class.ID,
		Name:      "  Alice ",
		StudentID: "S-001",
		Email:     "alice@example.com",
		Photo:     pngBytes(t, 32, 32, stripes),
		Filename:  "alice.png",
	})
	if err != nil {
		t.Fatalf("RegisterStudent: %v", err)
	}
	if st.Name != "Alice" || !st.HasEncoding() || len(st.Encoding) != face.EncodingSize {
		t.Errorf("unexpected student %+v", st)
	}
	if !strings.HasPrefix(st.FaceImageKey, objectstore.StudentPhotoPrefix+"S-001_") {
		t.Errorf("unexpected photo key %q", st.FaceImageKey)
	}
	if _, ct, ok := mem.Get(st.FaceImageKey); !ok || ct != "image/png" {
		t.Errorf("photo not stored correctly: ok=%v ct=%q", ok, ct)
	}

	stored, err := svc.Repository().GetStudent(ctx, st.ID)
	if err != nil {
		t.Fatalf("GetStudent: %v", err)
	}
	if len(stored.Encoding) != face.EncodingSize {
		t.Fatalf("encoding not persisted: %d values", len(stored.Encoding))
	}
	for i := range st.Encoding {
		if stored.Encoding[i] != st.Encoding[i] {
			t.Fatalf("encoding value %d changed after storage", i)
		}
	}

	url, err := svc.StudentPhotoURL(ctx, stored)
	if err != nil || !strings.HasPrefix(url, "https://photos.test/student_photos/") {
		t.Errorf("unexpected photo url %q, %v", url, err)
	}
}

func TestRegisterStudent_WithoutPhoto(t *testing.T) {
	svc, mem, class, _ := newTestService(t)

	st, err := svc.RegisterStudent(context.Background(), StudentInput{ClassID: class.ID, Name: "Bob", StudentID: "S-002"})
	if err != nil {
		t.Fatalf("RegisterStudent: %v", err)
	}
	if st.HasEncoding() || st.FaceImageKey != "" {
		t.Errorf("expected no face data, got %+v", st)
	}
	if keys, _ := mem.List(context.Background(), ""); len(keys) != 0 {
		t.Errorf("nothing should be uploaded, found %v", keys)
	}
	if _, err := svc.StudentPhotoURL(context.Background(), st); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRegisterStudent_Errors(t *testing.T) {
	svc, mem, class, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RegisterStudent(ctx, StudentInput{ClassID: class.ID, Name: "Dup", StudentID: "S-9"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tests := []struct {
		name string
		in   StudentInput
		want error
	}{
		{name: "missing name", in: StudentInput{ClassID: class.ID, StudentID: "S-1"}, want: ErrValidation},
		{name: "missing student id", in: StudentInput{ClassID: class.ID, Name: "A"}, want: ErrValidation},
		{name: "bad email", in: StudentInput{ClassID: class.ID, Name: "A", StudentID: "S-1", Email: "nope"}, want: ErrValidation},
		{name: "unknown class", in: StudentInput{ClassID: "missing", Name: "A", StudentID: "S-1"}, want: ErrInvalidClass},
		{name: "duplicate", in: StudentInput{ClassID: class.ID, Name: "B", StudentID: "S-9", Photo: pngBytes(t, 16, 16, stripes)}, want: ErrDuplicateStudentID},
		{name: "blank photo", in: StudentInput{ClassID: class.ID, Name: "C", StudentID: "S-2", Photo: pngBytes(t, 16, 16, blank)}, want: ErrNoFaceDetected},
		{name: "garbage photo", in: StudentInput{ClassID: class.ID, Name: "D", StudentID: "S-3", Photo: []byte("not an image")}, want: ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.RegisterStudent(ctx, tt.in); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if keys, _ := mem.List(ctx, ""); len(keys) != 0 {
		t.Errorf("failed registrations must not upload, found %v", keys)
	}
	if n, _ := svc.Repository().CountStudents(ctx, class.ID); n != 1 {
		t.Errorf("expected only the seed student, got %d", n)
	}
}

func TestRegisterStudent_UploadFailure(t *testing.T) {
	repo := newTestRepo(t)
	_, class := seedClass(t, repo)
	svc := NewService(repo, failingStore{objectstore.NewMemory("")}, face.SignatureEncoder{}, 0)

	_, err := svc.RegisterStudent(context.Background(), StudentInput{
		ClassID: class.ID, Name: "A", StudentID: "S-1", Photo: pngBytes(t, 16, 16, stripes),
	})
	if !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
	if n, _ := repo.CountStudents(context.Background(), class.ID); n != 0 {
		t.Errorf("student should not be saved, got %d", n)
	}
}

func TestUpdateStudentPhoto_ReplacesOldPhoto(t *testing.T) {
	svc, mem, class, _ := newTestService(t)
	ctx := context.Background()

	st, err := svc.RegisterStudent(ctx, StudentInput{ClassID: class.ID, Name: "A", StudentID: "S-1", Photo: pngBytes(t, 16, 16, stripes)})
	if err != nil {
		t.Fatalf("RegisterStudent: %v", err)
	}
	oldKey := st.FaceImageKey

	updated, err := svc.UpdateStudentPhoto(ctx, st.ID, pngBytes(t, 40, 40, rings), "new.jpg")
	if err != nil {
		t.Fatalf("UpdateStudentPhoto: %v", err)
	}
	if updated.FaceImageKey == oldKey {
		t.Fatal("expected a new photo key")
	}
	if _, _, ok := mem.Get(oldKey); ok {
		t.Error("old photo should be deleted")
	}
	if face.EuclideanDistance(updated.Encoding, st.Encoding) == 0 {
		t.Error("encoding should change with the new photo")
	}

	if _, err := svc.UpdateStudentPhoto(ctx, st.ID, pngBytes(t, 16, 16, blank), ""); !errors.Is(err, ErrNoFaceDetected) {
		t.Errorf("expected ErrNoFaceDetected, got %v", err)
	}
	if _, err := svc.UpdateStudentPhoto(ctx, "missing", pngBytes(t, 16, 16, stripes), ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteStudent_RemovesPhoto(t *testing.T) {
	svc, mem, class, _ := newTestService(t)
	ctx := context.Background()

	st, err := svc.RegisterStudent(ctx, StudentInput{ClassID: class.ID, Name: "A", StudentID: "S-1", Photo: pngBytes(t, 16, 16, stripes)})
	if err != nil {
		t.Fatalf("RegisterStudent: %v", err)
	}
	if err := svc.DeleteStudent(ctx, st.ID); err != nil {
		t.Fatalf("DeleteStudent: %v", err)
	}
	if keys, _ := mem.List(ctx, ""); len(keys) != 0 {
		t.Errorf("photo should be deleted, found %v", keys)
	}
	if err := svc.DeleteStudent(ctx, st.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestClassOwnership(t *testing.T) {
	svc, _, class, owner := newTestService(t)
	ctx := context.Background()

	other, err := svc.Repository().CreateUser(ctx, User{Username: "other", Email: "other@example.com", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	if _, err := svc.ClassForTeacher(ctx, class.ID, owner); err != nil {
		t.Errorf("owner should see class: %v", err)
	}
	if _, err := svc.ClassForTeacher(ctx, class.ID, other); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for non-owner, got %v", err)
	}
	admin := other
	admin.Role = RoleAdmin
	if _, err := svc.ClassForTeacher(ctx, class.ID, admin); err != nil {
		t.Errorf("admin should see class: %v", err)
	}

	if _, err := svc.CreateClass(ctx, owner.ID, "   ", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for blank name, got %v", err)
	}
	c, err := svc.CreateClass(ctx, owner.ID, " Chemistry ", " lab ")
	if err != nil || c.Name != "Chemistry" || c.Description != "lab" {
		t.Errorf("unexpected class %+v, %v", c, err)
	}
}

func TestViewSession(t *testing.T) {
	svc, mem, class, owner := newTestService(t)
	ctx := context.Background()
	repo := svc.Repository()
	seedStudent(t, repo, class.ID, "Zed", "S-2", unitEncoding(2))
	seedStudent(t, repo, class.ID, "Amy", "S-1", unitEncoding(1))

	wf := newWorkflow(repo, mem, &fakeDetector{faces: detected(unitEncoding(1))}, face.DistanceMatcher{})
	res, err := wf.TakeAttendance(ctx, class.ID, photo, "")
	if err != nil {
		t.Fatalf("TakeAttendance: %v", err)
	}

	view, err := svc.ViewSession(ctx, res.SessionID, owner)
	if err != nil {
		t.Fatalf("ViewSession: %v", err)
	}
	if len(view.Records) != 2 || view.Records[0].StudentName != "Amy" || view.Records[1].StudentName != "Zed" {
		t.Errorf("records should be ordered by name: %+v", view.Records)
	}
	if view.Present != 1 || view.Class.ID != class.ID {
		t.Errorf("unexpected view %+v", view)
	}
	if !strings.HasPrefix(view.ImageURL, "https://photos.test/classroom_photos/"+res.SessionID) {
		t.Errorf("unexpected image url %q", view.ImageURL)
	}

	stranger := User{ID: "someone-else", Role: RoleTeacher}
	if _, err := svc.ViewSession(ctx, res.SessionID, stranger); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for stranger, got %v", err)
	}
}
