package response

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/webapi/proxyutil"

	appErr "github.com/xxxsen/libragent/internal/pkg/errors"
	"github.com/xxxsen/libragent/internal/pkg/errcode"
)

type codeErr struct {
	code uint32
	msg  string
}

func (e codeErr) Error() string {
	return e.msg
}

func (e codeErr) Code() uint32 {
	return e.code
}

func AsCodeErr(code uint32, msg string) error {
	return codeErr{code: code, msg: msg}
}

func Success(c *gin.Context, data interface{}) {
	proxyutil.SuccessJson(c, data)
}

func Error(c *gin.Context, code int, message string) {
	proxyutil.FailJson(c, 200, AsCodeErr(uint32(code), message))
}

// CodeOf maps a service error onto the API error code space.
func CodeOf(err error) (int, string) {
	switch {
	case errors.Is(err, appErr.ErrInvalid):
		return errcode.ErrInvalid, "invalid request"
	case errors.Is(err, appErr.ErrNotFound):
		return errcode.ErrNotFound, "not found"
	case errors.Is(err, appErr.ErrGeneration):
		return errcode.ErrGenerationFailed, "generation failed"
	case errors.Is(err, appErr.ErrBackendUnavailable):
		return errcode.ErrBackendUnavailable, "backend unavailable"
	case errors.Is(err, appErr.ErrProcessing):
		return errcode.ErrProcessingFailed, "processing failed"
	default:
		return errcode.ErrInternal, "internal error"
	}
}

func FromError(c *gin.Context, err error) {
	code, msg := CodeOf(err)
	Error(c, code, msg)
}
