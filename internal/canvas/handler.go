package canvas

import (
	"context"
	"net/http"

	"cavvy/internal/domain"
	"cavvy/internal/errors"
	"cavvy/internal/utils"

	"github.com/gin-gonic/gin"
)

// TypeResolver looks up the canvas type a new canvas is created from.
type TypeResolver interface {
	GetType(ctx context.Context, userID uint64, id string) (*domain.CanvasType, error)
}

type Handler struct {
	service Service
	types   TypeResolver
}

func NewHandler(service Service, types TypeResolver) *Handler {
	return &Handler{service: service, types: types}
}

type CreateRequest struct {
	Name           string         `json:"name" binding:"required,min=1,max=255"`
	Description    string         `json:"description"`
	CanvasTypeID   string         `json:"canvas_type_id" binding:"required"`
	FolderID       string         `json:"folder_id"`
	ParentCanvasID *string        `json:"parent_canvas_id"`
	Layout         *domain.Layout `json:"layout"`
	Theme          string         `json:"theme"`
}

type SectionItemsRequest struct {
	Items []domain.SectionItem `json:"items" binding:"required"`
}

type QuestionAnswersRequest struct {
	QAs []domain.QuestionAnswer `json:"qas" binding:"required"`
}

func (h *Handler) Create(c *gin.Context) {
	var form CreateRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	userID := c.GetUint64("user_id")

	canvasType, err := h.types.GetType(c.Request.Context(), userID, form.CanvasTypeID)
	if err != nil {
		c.Error(err)
		return
	}

	created, err := h.service.CreateCanvas(c.Request.Context(), userID, CreateInput{
		Name:           form.Name,
		Description:    form.Description,
		CanvasType:     canvasType,
		Layout:         form.Layout,
		Theme:          form.Theme,
		FolderID:       form.FolderID,
		ParentCanvasID: form.ParentCanvasID,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

// List returns a page of the user's canvases, or every hierarchy root with
// ?roots=true.
func (h *Handler) List(c *gin.Context) {
	userID := c.GetUint64("user_id")

	if c.Query("roots") == "true" {
		roots, err := h.service.Roots(c.Request.Context(), userID)
		if err != nil {
			c.Error(err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": roots})
		return
	}

	page, pageSize := utils.GetPaginationParams(c)
	result, err := h.service.ListCanvases(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) Show(c *gin.Context) {
	canvas, err := h.service.LoadCanvas(c.Request.Context(), c.GetUint64("user_id"), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, canvas)
}

func (h *Handler) UpdateMetadata(c *gin.Context) {
	var input MetadataInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	canvas, err := h.service.UpdateMetadata(c.Request.Context(), c.GetUint64("user_id"), c.Param("id"), input)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, canvas)
}

func (h *Handler) Delete(c *gin.Context) {
	if err := h.service.DeleteCanvas(c.Request.Context(), c.GetUint64("user_id"), c.Param("id")); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) Children(c *gin.Context) {
	children, err := h.service.Children(c.Request.Context(), c.GetUint64("user_id"), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": children})
}

func (h *Handler) Ancestors(c *gin.Context) {
	path, err := h.service.Ancestors(c.Request.Context(), c.GetUint64("user_id"), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": path})
}

// UpdateSection accepts the edit and answers 202; the write itself is
// deferred.
func (h *Handler) UpdateSection(c *gin.Context) {
	var form SectionItemsRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	canvasID := c.Param("id")
	err := h.service.UpdateSection(c.Request.Context(), c.GetUint64("user_id"), canvasID, c.Param("section"), form.Items)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"save_status": h.service.SaveStatus(canvasID)})
}

func (h *Handler) SetQuestionAnswers(c *gin.Context) {
	var form QuestionAnswersRequest
	if err := c.ShouldBindJSON(&form); err != nil {
		c.Error(errors.NewValidationError(err))
		return
	}

	canvas, err := h.service.SetQuestionAnswers(c.Request.Context(), c.GetUint64("user_id"), c.Param("id"), c.Param("section"), form.QAs)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, canvas)
}

func (h *Handler) SaveStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.SaveStatus(c.Param("id")))
}
