package utils

import "github.com/gin-gonic/gin"

// JSONResponse defines the uniform structure for local API responses.
type JSONResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Respond writes a JSON response with the given status code.
func Respond(ctx *gin.Context, status int, code int, message string, data interface{}) {
	ctx.JSON(status, JSONResponse{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// Success returns a standard success response.
func Success(ctx *gin.Context, data interface{}) {
	Respond(ctx, 200, 0, "success", data)
}

// Notice returns a 200 response carrying an informational or soft-warning message.
func Notice(ctx *gin.Context, code int, message string, data interface{}) {
	Respond(ctx, 200, code, message, data)
}

// Accepted signals that an action was queued for later replay.
func Accepted(ctx *gin.Context, message string, data interface{}) {
	Respond(ctx, 202, 20201, message, data)
}

// Error returns a standard error response.
func Error(ctx *gin.Context, status int, code int, message string) {
	Respond(ctx, status, code, message, nil)
}
