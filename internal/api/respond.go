package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	xerrors "VelocityVault/internal/errors"
	"VelocityVault/internal/intent"
	"VelocityVault/pkg/logger"
)

// envelope 为统一响应结构。
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.L().Warn("写入响应失败", slog.Any("error", err))
	}
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Error: message})
}

// writeFailure 根据错误码映射 HTTP 状态码。
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(xerrors.CodeOf(err))
	message := xerrors.MessageOf(err)
	if status >= http.StatusInternalServerError {
		logger.L().Error("请求处理失败",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		if message == "" {
			message = "Internal server error"
		}
	}
	writeError(w, status, message)
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeValidation, xerrors.CodePrecondition:
		return http.StatusBadRequest
	case xerrors.CodeForbidden:
		return http.StatusForbidden
	case xerrors.CodeNotFound, intent.CodeIntentNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, intent.CodeIntentConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
