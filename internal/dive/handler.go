package dive

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

type StartDiveRequest struct {
	SessionID      string  `json:"session_id"`
	ParentCanvasID string  `json:"parent_canvas_id" binding:"required"`
	FolderID       string  `json:"folder_id"`
	Section        Section `json:"section" binding:"required"`
	Item           string  `json:"item" binding:"required"`
	ItemID         string  `json:"item_id"`
}

type SelectRequest struct {
	CanvasTypeID string `json:"canvas_type_id" binding:"required"`
}

type ConfirmRequest struct {
	FolderID *string `json:"folder_id"`
}

// Start opens a dive and answers 202 while suggestions are fetched in the
// background. Progress is visible through Show and the change stream.
func (h *Handler) Start(c *gin.Context) {
	var form StartDiveRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	session, err := h.service.BeginDiveAnalysis(c.Request.Context(), c.GetUint64("user_id"), StartRequest{
		SessionID: form.SessionID,
		Context: Context{
			ParentCanvasID: form.ParentCanvasID,
			FolderID:       form.FolderID,
			Section:        form.Section,
			Item:           form.Item,
			ItemID:         form.ItemID,
		},
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, session)
}

func (h *Handler) Show(c *gin.Context) {
	session, err := h.service.GetSession(c.Request.Context(), c.GetUint64("user_id"), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *Handler) Delete(c *gin.Context) {
	if err := h.service.DeleteSession(c.Request.Context(), c.GetUint64("user_id"), c.Param("id")); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) Select(c *gin.Context) {
	var form SelectRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	session, err := h.service.Select(c.Request.Context(), c.GetUint64("user_id"), c.Param("id"), form.CanvasTypeID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *Handler) ClearSelection(c *gin.Context) {
	session, err := h.service.ClearSelection(c.Request.Context(), c.GetUint64("user_id"), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *Handler) CreateNewType(c *gin.Context) {
	var ref ProposalRef
	if err := c.ShouldBindJSON(&ref); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}
	if ref.Index == nil && ref.Name == "" {
		c.Error(errors.BadRequest("Proposal index or name is required", nil))
		return
	}

	session, err := h.service.CreateNewCanvasType(c.Request.Context(), c.GetUint64("user_id"), c.Param("id"), ref)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *Handler) Confirm(c *gin.Context) {
	var form ConfirmRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&form); err != nil {
			c.Error(errors.NewValidationError(err))
			return
		}
	}

	child, err := h.service.ConfirmCanvas(c.Request.Context(), c.GetUint64("user_id"), c.Param("id"), form.FolderID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, child)
}
