package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
)

type studentView struct {
	attendance.Student
	HasFace  bool   `json:"has_face"`
	PhotoURL string `json:"photo_url,omitempty"`
}

func studentViews(students []attendance.Student) []studentView {
	out := make([]studentView, 0, len(students))
	for _, st := range students {
		out = append(out, studentView{Student: st, HasFace: st.HasEncoding()})
	}
	return out
}

func (h *Handler) registerStudent(c *gin.Context) {
	class, ok := h.ownedClass(c)
	if !ok {
		return
	}
	photo, filename, err := h.readPhoto(c, "photo")
	if err != nil {
		writeError(c, err)
		return
	}
	st, err := h.svc.RegisterStudent(c.Request.Context(), attendance.StudentInput{
		ClassID:   class.ID,
		Name:      c.PostForm("name"),
		StudentID: c.PostForm("student_id"),
		Email:     c.PostForm("email"),
		Photo:     photo,
		Filename:  filename,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, studentView{Student: st, HasFace: st.HasEncoding()})
}

// ownedStudent loads the :id student and checks the caller owns its class.
func (h *Handler) ownedStudent(c *gin.Context) (attendance.Student, bool) {
	st, err := h.svc.Repository().GetStudent(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return attendance.Student{}, false
	}
	if _, err := h.svc.ClassForTeacher(c.Request.Context(), st.ClassID, currentUser(c)); err != nil {
		writeError(c, attendance.ErrNotFound)
		return attendance.Student{}, false
	}
	return st, true
}

func (h *Handler) getStudent(c *gin.Context) {
	st, ok := h.ownedStudent(c)
	if !ok {
		return
	}
	view := studentView{Student: st, HasFace: st.HasEncoding()}
	if st.FaceImageKey != "" {
		if url, err := h.svc.StudentPhotoURL(c.Request.Context(), st); err == nil {
			view.PhotoURL = url
		}
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) updateStudentPhoto(c *gin.Context) {
	st, ok := h.ownedStudent(c)
	if !ok {
		return
	}
	photo, filename, err := h.readPhoto(c, "photo")
	if err != nil {
		writeError(c, err)
		return
	}
	updated, err := h.svc.UpdateStudentPhoto(c.Request.Context(), st.ID, photo, filename)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, studentView{Student: updated, HasFace: updated.HasEncoding()})
}

func (h *Handler) deleteStudent(c *gin.Context) {
	st, ok := h.ownedStudent(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteStudent(c.Request.Context(), st.ID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
