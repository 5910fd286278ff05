package main

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/haircutfun/haircutfun/pkg/models"
)

// registerValidators adds the plantype tag to gin's validator and reports
// fields by their JSON names
func registerValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("unexpected validator engine")
	}

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return v.RegisterValidation("plantype", func(fl validator.FieldLevel) bool {
		plan, ok := models.ParsePlanType(fl.Field().String())
		return ok && plan.IsPaid()
	})
}

// bindingMessage turns a binding error into user-facing copy
func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request body"
	}

	messages := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", fe.Field()))
		case "plantype":
			messages = append(messages, fmt.Sprintf("%s must be one of [pro premium]", fe.Field()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation for '%s'", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(messages, "; ")
}
