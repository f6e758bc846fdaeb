package generation

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Show(c *gin.Context) {
	st, err := h.service.Status(c.GetUint64("user_id"), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, st)
}

func (h *Handler) Cancel(c *gin.Context) {
	st, err := h.service.CancelGeneration(c.Request.Context(), c.GetUint64("user_id"), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, st)
}
