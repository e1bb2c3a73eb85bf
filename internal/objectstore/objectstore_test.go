package objectstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "class photo.jpg", want: "class_photo.jpg"},
		{in: "../../etc/passwd", want: "passwd"},
		{in: `C:\Users\me\pic.png`, want: "pic.png"},
		{in: ".hidden", want: "hidden"},
		{in: "ümlaut-näme.jpg", want: "mlaut-nme.jpg"},
		{in: "a/b/c d e.jpeg", want: "c_d_e.jpeg"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SanitizeFilename(tt.in); got != tt.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPhotoKeys(t *testing.T) {
	at := time.Date(2024, 3, 5, 9, 7, 1, 0, time.UTC)

	if got := ClassroomPhotoKey("sess-1", at); got != "classroom_photos/sess-1_20240305090701.jpg" {
		t.Errorf("unexpected classroom key %q", got)
	}
	if got := StudentPhotoKey("S 42/../x", at); got != "student_photos/x_20240305090701.jpg" {
		t.Errorf("unexpected student key %q", got)
	}
	// Deterministic for the same inputs.
	if ClassroomPhotoKey("a", at) != ClassroomPhotoKey("a", at) {
		t.Error("keys should be deterministic")
	}
}

func TestContentType(t *testing.T) {
	cases := map[string]string{
		"a.PNG":  "image/png",
		"a.webp": "image/webp",
		"a.jpg":  "image/jpeg",
		"noext":  "image/jpeg",
		"a.tiff": "image/tiff",
	}
	for name, want := range cases {
		if got := ContentType(name); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestMemory_Lifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("https://bucket.example.com/")
	m.now = func() time.Time { return time.Unix(1000, 0) }

	if err := m.Put(ctx, "student_photos/a.jpg", []byte("a"), "image/jpeg"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := m.Put(ctx, "classroom_photos/b.jpg", []byte("b"), "image/jpeg"); err != nil {
		t.Fatalf("Put: %v", err)
	}

	url, err := m.URLFor(ctx, "student_photos/a.jpg", time.Hour)
	if err != nil {
		t.Fatalf("URLFor: %v", err)
	}
	if url != "https://bucket.example.com/student_photos/a.jpg?expiry=4600" {
		t.Errorf("unexpected url %q", url)
	}

	keys, _ := m.List(ctx, StudentPhotoPrefix)
	if len(keys) != 1 || keys[0] != "student_photos/a.jpg" {
		t.Errorf("unexpected list %v", keys)
	}
	all, _ := m.List(ctx, "")
	if len(all) != 2 {
		t.Errorf("expected 2 keys, got %v", all)
	}

	deleted, err := m.Delete(ctx, "student_photos/a.jpg")
	if err != nil || !deleted {
		t.Errorf("expected delete to succeed, got %v, %v", deleted, err)
	}
	deleted, _ = m.Delete(ctx, "student_photos/a.jpg")
	if deleted {
		t.Error("second delete should report false")
	}

	if _, err := m.URLFor(ctx, "student_photos/a.jpg", time.Hour); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_InstancesAreIsolated(t *testing.T) {
	ctx := context.Background()
	a, b := NewMemory(""), NewMemory("")
	_ = a.Put(ctx, "k", []byte("x"), "")

	if keys, _ := b.List(ctx, ""); len(keys) != 0 {
		t.Errorf("expected isolated stores, got %v", keys)
	}
}

func TestMemory_PutCopiesData(t *testing.T) {
	m := NewMemory("")
	data := []byte("abc")
	_ = m.Put(context.Background(), "k", data, "image/png")
	data[0] = 'z'

	got, ct, ok := m.Get("k")
	if !ok || string(got) != "abc" || ct != "image/png" {
		t.Errorf("unexpected stored object %q %q %v", got, ct, ok)
	}
}

func TestMemory_PutRejectsEmptyKeyAndCancelledContext(t *testing.T) {
	m := NewMemory("")
	if err := m.Put(context.Background(), "", []byte("x"), ""); !errors.Is(err, ErrUploadFailed) {
		t.Errorf("expected ErrUploadFailed for empty key, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Put(ctx, "k", []byte("x"), ""); !errors.Is(err, ErrUploadFailed) {
		t.Errorf("expected ErrUploadFailed for cancelled ctx, got %v", err)
	}
}

func newTestCloudinary(srv *httptest.Server) *Cloudinary {
	c := NewCloudinary(CloudinaryConfig{CloudName: "demo", APIKey: "key", APISecret: "secret", Folder: "rollcall"})
	c.apiBase = srv.URL
	c.http = srv.Client()
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func TestCloudinary_PutSignsUpload(t *testing.T) {
	var gotPublicID, gotSignature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/image/upload" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		gotPublicID = r.FormValue("public_id")
		gotSignature = r.FormValue("signature")
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		body, _ := io.ReadAll(f)
		if string(body) != "jpegbytes" {
			t.Errorf("unexpected file body %q", body)
		}
		_, _ = w.Write([]byte(`{"public_id":"rollcall/classroom_photos/s1","secure_url":"https://x","format":"jpg"}`))
	}))
	defer srv.Close()

	c := newTestCloudinary(srv)
	if err := c.Put(context.Background(), "classroom_photos/s1.jpg", []byte("jpegbytes"), "image/jpeg"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if gotPublicID != "rollcall/classroom_photos/s1" {
		t.Errorf("unexpected public id %q", gotPublicID)
	}
	want := c.sign(map[string]string{"public_id": gotPublicID, "overwrite": "true", "timestamp": "1700000000"})
	if gotSignature != want {
		t.Errorf("signature mismatch: got %q want %q", gotSignature, want)
	}
}

func TestCloudinary_PutFailureWrapsUploadFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	err := newTestCloudinary(srv).Put(context.Background(), "k.jpg", []byte("x"), "")
	if !errors.Is(err, ErrUploadFailed) {
		t.Errorf("expected ErrUploadFailed, got %v", err)
	}
}

func TestCloudinary_URLForAndList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.URL.Path == "/resources/image/upload/rollcall/student_photos/missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{}`))
		case strings.HasPrefix(r.URL.Path, "/resources/image/upload/"):
			_, _ = w.Write([]byte(`{"public_id":"rollcall/student_photos/a","secure_url":"https://cdn/a.jpg","format":"jpg"}`))
		case r.URL.Path == "/resources/image":
			if r.URL.Query().Get("prefix") != "rollcall/student_photos/" {
				t.Errorf("unexpected prefix %q", r.URL.Query().Get("prefix"))
			}
			if r.URL.Query().Get("next_cursor") == "" {
				_, _ = w.Write([]byte(`{"resources":[{"public_id":"rollcall/student_photos/b","format":"png"}],"next_cursor":"c2"}`))
				return
			}
			_, _ = w.Write([]byte(`{"resources":[{"public_id":"rollcall/student_photos/a","format":"jpg"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestCloudinary(srv)
	ctx := context.Background()

	url, err := c.URLFor(ctx, "student_photos/a.jpg", time.Hour)
	if err != nil || url != "https://cdn/a.jpg" {
		t.Errorf("unexpected URLFor result %q, %v", url, err)
	}
	if _, err := c.URLFor(ctx, "student_photos/missing.jpg", time.Hour); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	keys, err := c.List(ctx, StudentPhotoPrefix)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 || keys[0] != "student_photos/a.jpg" || keys[1] != "student_photos/b.png" {
		t.Errorf("unexpected keys %v", keys)
	}
}

func TestCloudinary_Delete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.FormValue("public_id") == "rollcall/gone" {
			_, _ = w.Write([]byte(`{"result":"not found"}`))
			return
		}
		_, _ = w.Write([]byte(`{"result":"ok"}`))
	}))
	defer srv.Close()

	c := newTestCloudinary(srv)
	if ok, err := c.Delete(context.Background(), "present.jpg"); err != nil || !ok {
		t.Errorf("expected delete ok, got %v, %v", ok, err)
	}
	if ok, err := c.Delete(context.Background(), "gone.jpg"); err != nil || ok {
		t.Errorf("expected delete false, got %v, %v", ok, err)
	}
}
