package documents

import (
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// uploadMeta carries the names of the files of a multipart request so
// their extensions can be checked declaratively.
type uploadMeta struct {
	Document  string `binding:"required,pdf_ext"`
	Signature string `binding:"omitempty,image_ext"`
}

// RegisterValidators installs the upload validators on gin's engine.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}
	if err := v.RegisterValidation("pdf_ext", extIn(".pdf")); err != nil {
		return err
	}
	return v.RegisterValidation("image_ext", extIn(".png", ".jpg", ".jpeg"))
}

func extIn(exts ...string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		ext := strings.ToLower(filepath.Ext(fl.Field().String()))
		for _, e := range exts {
			if ext == e {
				return true
			}
		}
		return false
	}
}
