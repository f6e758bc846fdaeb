package folder

import (
	"net/http"

	"cavvy/internal/errors"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type CreateRequest struct {
	Name     string  `json:"name" binding:"required,min=1,max=255"`
	ParentID *string `json:"parent_id"`
}

func (h *Handler) List(c *gin.Context) {
	folders, err := h.service.ListFolders(c.Request.Context(), c.GetUint64("user_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": folders})
}

func (h *Handler) Create(c *gin.Context) {
	var form CreateRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	f, err := h.service.CreateFolder(c.Request.Context(), c.GetUint64("user_id"), form.Name, form.ParentID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, f)
}

func (h *Handler) Delete(c *gin.Context) {
	if err := h.service.DeleteFolder(c.Request.Context(), c.GetUint64("user_id"), c.Param("id")); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) MoveCanvas(c *gin.Context) {
	err := h.service.MoveCanvas(c.Request.Context(), c.GetUint64("user_id"), c.Param("canvasId"), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) Sweep(c *gin.Context) {
	result, err := h.service.Sweep(c.Request.Context(), c.GetUint64("user_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}
