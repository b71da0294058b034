package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/irfndi/distance-pairs/internal/database"
	"github.com/irfndi/distance-pairs/internal/dataset"
	"github.com/irfndi/distance-pairs/internal/models"
	"github.com/irfndi/distance-pairs/internal/services"
)

// StatusForError maps domain errors onto HTTP status codes.
func StatusForError(err error) int {
	var ve *dataset.ValidationError
	switch {
	case errors.As(err, &ve),
		services.IsConfigError(err),
		errors.Is(err, services.ErrInsufficientData),
		errors.Is(err, models.ErrInvalidPriceTable):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrRunNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	status := StatusForError(err)
	body := gin.H{"success": false, "error": err.Error()}
	var ve *dataset.ValidationError
	if errors.As(err, &ve) {
		body["code"] = ve.Code
	}
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, body)
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": message})
}

func respondData(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}
