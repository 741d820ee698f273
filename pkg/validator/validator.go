// Package validator registers the domain tags used in request bindings with
// the go-playground validator behind gin.
package validator

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/labcase-api/internal/model"
)

var once sync.Once

// RegisterGin installs the custom tags on gin's default validator. It is safe
// to call more than once.
func RegisterGin() error {
	var err error
	once.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			err = fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
			return
		}
		err = Register(v)
	})
	return err
}

// Register adds stage_status and delivery_status, and reports fields by their
// json name.
func Register(v *validator.Validate) error {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	if err := v.RegisterValidation("stage_status", func(fl validator.FieldLevel) bool {
		return model.StageStatus(fl.Field().String()).Valid()
	}); err != nil {
		return err
	}
	return v.RegisterValidation("delivery_status", func(fl validator.FieldLevel) bool {
		return model.DeliveryStatus(fl.Field().String()).Valid()
	})
}
