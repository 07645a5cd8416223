// Package handler 本地控制接口的 HTTP 处理器
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	bizerr "github.com/trifle-labs/clawdice-frontend-sub000/pkg/errors"
)

// Response 统一响应
type Response struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Data    interface{}       `json:"data,omitempty"`
	Raw     string            `json:"raw,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// PagedData 分页数据
type PagedData struct {
	Items    interface{} `json:"items"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// Success 返回成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, &Response{Code: "OK", Message: "success", Data: data})
}

// SuccessPaged 返回分页响应
func SuccessPaged(c *gin.Context, items interface{}, total int64, page, pageSize int) {
	Success(c, &PagedData{Items: items, Total: total, Page: page, PageSize: pageSize})
}

// Error 返回错误响应, 非业务错误按内部错误处理
func Error(c *gin.Context, err error) {
	e := bizerr.FromError(err)
	message, raw := bizerr.Describe(e)
	details := make(map[string]string, len(e.Details))
	for k, v := range e.Details {
		if k != bizerr.DetailRaw {
			details[k] = v
		}
	}
	if len(details) == 0 {
		details = nil
	}
	_ = c.Error(err)
	c.JSON(bizerr.ToHTTPStatus(e), &Response{
		Code:    e.Code,
		Message: message,
		Raw:     raw,
		Details: details,
	})
}

// BadRequest 返回参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, bizerr.ErrInvalidRequest.WithMessage(message))
}
