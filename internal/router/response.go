package router

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"product_radar/internal/middleware"
	"product_radar/internal/model"
	"product_radar/internal/store"
)

// envelope 统一响应结构；失败时只有 success=false 与 message。
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Total   *int   `json:"total,omitempty"`
	Page    *int   `json:"page,omitempty"`
	Limit   *int   `json:"limit,omitempty"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

func okPage(c *gin.Context, data any, total, page, limit int) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data, Total: &total, Page: &page, Limit: &limit})
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, envelope{Success: false, Message: msg})
}

// failErr 把领域错误映射为 HTTP 状态码。
func failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		fail(c, http.StatusNotFound, "product not found")
	case errors.Is(err, model.ErrInvalidSignal):
		fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrConflict):
		fail(c, http.StatusConflict, "product is being updated concurrently, retry later")
	default:
		_ = c.Error(err)
		log.Error().Err(err).
			Str("request_id", middleware.GetRequestID(c)).
			Str("path", c.FullPath()).
			Msg("request failed")
		fail(c, http.StatusInternalServerError, "internal server error")
	}
}
