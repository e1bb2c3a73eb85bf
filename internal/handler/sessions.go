package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type captureRequest struct {
	ImageData string `json:"image_data" binding:"required"`
	Filename  string `json:"filename"`
}

// takeAttendance accepts a multipart "photo" upload or a JSON body with a
// base64 image_data field, as sent by a browser camera capture.
func (h *Handler) takeAttendance(c *gin.Context) {
	class, ok := h.ownedClass(c)
	if !ok {
		return
	}

	var (
		photo    []byte
		filename string
		err      error
	)
	if strings.HasPrefix(c.ContentType(), "application/json") {
		var req captureRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		photo, err = decodeDataURL(req.ImageData)
		filename = req.Filename
		if err == nil && int64(len(photo)) > h.maxUpload {
			badRequest(c, "photo too large")
			return
		}
	} else {
		photo, filename, err = h.readPhoto(c, "photo")
	}
	if err != nil {
		writeError(c, err)
		return
	}

	res, err := h.workflow.TakeAttendance(c.Request.Context(), class.ID, photo, filename)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) getSession(c *gin.Context) {
	view, err := h.svc.ViewSession(c.Request.Context(), c.Param("id"), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
