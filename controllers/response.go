package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"finance_backend/services"

	"github.com/gin-gonic/gin"
)

func respondOK(c *gin.Context, data interface{}, meta gin.H) {
	body := gin.H{
		"success":   true,
		"data":      data,
		"timestamp": time.Now().UnixMilli(),
	}
	if meta != nil {
		body["meta"] = meta
	}
	c.JSON(http.StatusOK, body)
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": message})
}

// respondError maps validation failures to 400 and everything else to 500
func respondError(c *gin.Context, err error) {
	var vErr *services.ValidationError
	if errors.As(err, &vErr) {
		respondBadRequest(c, vErr.Message)
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
}

// splitList splits a comma separated query value, dropping blanks
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// queryInt returns 0 for an absent parameter and an error for a non-numeric one
func queryInt(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, &services.ValidationError{Field: name, Message: name + " must be a non-negative integer"}
	}
	return v, nil
}

func queryBool(c *gin.Context, name string) bool {
	v, _ := strconv.ParseBool(c.Query(name))
	return v
}
