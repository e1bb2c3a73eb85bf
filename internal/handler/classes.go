package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
)

type classRequest struct {
	Name        string `json:"name" binding:"required,max=100"`
	Description string `json:"description"`
}

func (h *Handler) listClasses(c *gin.Context) {
	classes, err := h.svc.Repository().ListClasses(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classes": classes})
}

func (h *Handler) createClass(c *gin.Context) {
	var req classRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	class, err := h.svc.CreateClass(c.Request.Context(), currentUser(c).ID, req.Name, req.Description)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, class)
}

// ownedClass loads the :id class and aborts unless the caller owns it.
func (h *Handler) ownedClass(c *gin.Context) (attendance.Class, bool) {
	class, err := h.svc.ClassForTeacher(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		writeError(c, err)
		return attendance.Class{}, false
	}
	return class, true
}

func (h *Handler) getClass(c *gin.Context) {
	class, ok := h.ownedClass(c)
	if !ok {
		return
	}
	count, err := h.svc.Repository().CountStudents(c.Request.Context(), class.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"class": class, "student_count": count})
}

func (h *Handler) listStudents(c *gin.Context) {
	class, ok := h.ownedClass(c)
	if !ok {
		return
	}
	students, err := h.svc.Repository().ListStudents(c.Request.Context(), class.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": studentViews(students)})
}

func (h *Handler) listSessions(c *gin.Context) {
	class, ok := h.ownedClass(c)
	if !ok {
		return
	}
	from, err := parseDate(c, "start_date")
	if err != nil {
		writeError(c, err)
		return
	}
	to, err := parseDate(c, "end_date")
	if err != nil {
		writeError(c, err)
		return
	}
	sessions, err := h.svc.Repository().ListSessions(c.Request.Context(), attendance.SessionFilter{ClassID: class.ID, From: from, To: to})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) classReport(c *gin.Context) {
	class, ok := h.ownedClass(c)
	if !ok {
		return
	}
	from, err := parseDate(c, "start_date")
	if err != nil {
		writeError(c, err)
		return
	}
	to, err := parseDate(c, "end_date")
	if err != nil {
		writeError(c, err)
		return
	}
	rep, err := h.reports.ClassReport(c.Request.Context(), class, from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}
