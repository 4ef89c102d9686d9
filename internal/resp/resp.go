// Package resp 提供统一的 JSON 响应结构与业务码。
package resp

import (
	"encoding/json"
	"net/http"
)

// 业务码
const (
	CodeOK            = 0
	CodeInvalidParam  = 10001
	CodeUnauthorized  = 10002
	CodeNotFound      = 10004
	CodeConflict      = 10009
	CodeTooManyOrders = 10029
	CodeInternalError = 50000
	CodeTimeout       = 50004
)

// Response 统一响应体
type Response[T any] struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      T      `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// WriteJSON 写出任意业务码的响应
func WriteJSON[T any](w http.ResponseWriter, status, code int, message string, data T, requestID, traceID string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response[T]{
		Code:      code,
		Message:   message,
		Data:      data,
		RequestID: requestID,
		TraceID:   traceID,
	})
}

// OK 写出 200 成功响应
func OK[T any](w http.ResponseWriter, data T, requestID, traceID string) {
	WriteJSON(w, http.StatusOK, CodeOK, "success", data, requestID, traceID)
}

// Error 写出错误响应，data 为空
func Error(w http.ResponseWriter, status, code int, message, requestID, traceID string) {
	WriteJSON[any](w, status, code, message, nil, requestID, traceID)
}

// HTTPStatusFromCode 将业务码映射为 HTTP 状态码
func HTTPStatusFromCode(code int) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeInvalidParam:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeTooManyOrders:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
