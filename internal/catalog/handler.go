package catalog

import (
	"net/http"

	"cavvy/internal/domain"
	"cavvy/internal/errors"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) ListTypes(c *gin.Context) {
	userID := c.GetUint64("user_id")

	types, err := h.service.GetTypes(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": types})
}

func (h *Handler) ShowType(c *gin.Context) {
	userID := c.GetUint64("user_id")

	t, err := h.service.GetType(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, t)
}

// bindType reads a canvas type body; the id always comes from the path.
func bindType(c *gin.Context) (*domain.CanvasType, bool) {
	var t domain.CanvasType
	if err := c.ShouldBindJSON(&t); err != nil {
		c.Error(errors.NewValidationError(err))
		return nil, false
	}
	t.ID = c.Param("id")
	return &t, true
}

func (h *Handler) SaveCustomType(c *gin.Context) {
	t, ok := bindType(c)
	if !ok {
		return
	}

	saved, err := h.service.SaveCustom(c.Request.Context(), c.GetUint64("user_id"), t)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, saved)
}

func (h *Handler) DeleteCustomType(c *gin.Context) {
	if err := h.service.DeleteCustom(c.Request.Context(), c.GetUint64("user_id"), c.Param("id")); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) SaveSharedType(c *gin.Context) {
	t, ok := bindType(c)
	if !ok {
		return
	}

	saved, err := h.service.SaveShared(c.Request.Context(), c.GetUint64("user_id"), t)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, saved)
}

func (h *Handler) DeleteSharedType(c *gin.Context) {
	if err := h.service.DeleteShared(c.Request.Context(), c.GetUint64("user_id"), c.Param("id")); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) ListAgents(c *gin.Context) {
	agents, err := h.service.GetAgents(c.Request.Context(), c.GetUint64("user_id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": agents})
}

func bindAgent(c *gin.Context) (*domain.AIAgent, bool) {
	var a domain.AIAgent
	if err := c.ShouldBindJSON(&a); err != nil {
		c.Error(errors.NewValidationError(err))
		return nil, false
	}
	a.ID = c.Param("id")
	return &a, true
}

func (h *Handler) SaveCustomAgent(c *gin.Context) {
	a, ok := bindAgent(c)
	if !ok {
		return
	}

	saved, err := h.service.SaveCustomAgent(c.Request.Context(), c.GetUint64("user_id"), a)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, saved)
}

func (h *Handler) SaveSharedAgent(c *gin.Context) {
	a, ok := bindAgent(c)
	if !ok {
		return
	}

	saved, err := h.service.SaveSharedAgent(c.Request.Context(), c.GetUint64("user_id"), a)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, saved)
}
