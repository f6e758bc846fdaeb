package utils

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

func GetPaginationParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}

	return page, pageSize
}

type PageMeta struct {
	Total       int64 `json:"total"`
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	TotalPage   int   `json:"total_page"`
}

func NewPageMeta(total int64, page, pageSize int) PageMeta {
	if pageSize < 1 {
		pageSize = 1
	}
	return PageMeta{
		Total:       total,
		CurrentPage: page,
		PerPage:     pageSize,
		TotalPage:   int((total + int64(pageSize) - 1) / int64(pageSize)),
	}
}

// Offset returns the number of rows to skip for a 1-based page.
func Offset(page, pageSize int) int {
	if page < 1 {
		return 0
	}
	return (page - 1) * pageSize
}
