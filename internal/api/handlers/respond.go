package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"homebid/internal/apperrors"
	"homebid/internal/utils"
)

// respondError writes the uniform failure envelope, with the status taken
// from the error's kind. Internal error detail is logged, not exposed.
func respondError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		utils.Error("request failed", map[string]any{
			"path":  c.FullPath(),
			"error": err.Error(),
		})
		message = "internal error"
	}
	c.JSON(status, gin.H{"success": false, "error": message})
}

// respondOK writes the uniform success envelope.
func respondOK(c *gin.Context, status int, result any) {
	c.JSON(status, gin.H{"success": true, "result": result})
}

// pathID parses a SixID path parameter, failing the request with a 400 on
// malformed input.
func pathID(c *gin.Context, name string) (utils.SixID, bool) {
	id, err := utils.ParseSixID(c.Param(name))
	if err != nil {
		respondError(c, apperrors.Validation("invalid %s", name))
		return utils.SixID{}, false
	}
	return id, true
}
