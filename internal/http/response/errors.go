package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/nort-backend/internal/platform/apierr"
)

// RespondErr maps err through apierr. Server errors keep their detail out of the response.
func RespondErr(c *gin.Context, fallbackCode string, err error) {
	ae := apierr.From(err, fallbackCode)
	if ae == nil {
		RespondError(c, http.StatusInternalServerError, fallbackCode, nil)
		return
	}
	if ae.Status >= http.StatusInternalServerError {
		_ = c.Error(err)
		RespondError(c, ae.Status, ae.Code, errInternal)
		return
	}
	RespondError(c, ae.Status, ae.Code, ae)
}

type internalError struct{}

func (internalError) Error() string { return "internal server error" }

var errInternal error = internalError{}
