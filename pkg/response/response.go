package response

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"anoa.com/threadforum/pkg/apperror"
	formatter "anoa.com/threadforum/pkg/validator"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// GetUserID retrieves the authenticated user ID from the context
func GetUserID(c *gin.Context) (string, error) {
	userID := c.GetString("user_id")
	if userID == "" {
		return "", apperror.ErrUnauthorized
	}
	return userID, nil
}

// ResponseError standardized error response
func ResponseError(c *gin.Context, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": formatter.FormatValidationError(validationErrs),
			"data":  formatter.FieldErrors(validationErrs),
		})
		return
	}
	if isDecodeError(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	code := apperror.MapErrorToStatus(err)

	// Log internal errors
	if code >= http.StatusInternalServerError {
		zap.L().Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", code),
			zap.Error(err),
		)
	}

	body := gin.H{"error": err.Error()}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) && appErr.Data != nil {
		body["data"] = appErr.Data
	}
	c.JSON(code, body)
}

// isDecodeError reports whether err came from decoding a malformed request body.
func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) ||
		errors.As(err, &typeErr) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
