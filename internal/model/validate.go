package model

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"realtime-canvas/internal/apperr"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// report json names so errors match the wire fields
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// ValidateEntity checks the rules every write path must hold.
func ValidateEntity(e Entity) error {
	return translate(validatorInstance().Struct(e))
}

// ValidatePatch checks the present fields of p.
func ValidatePatch(p Patch) error {
	return translate(validatorInstance().Struct(p))
}

// ClampDimensions raises width/height in p to MinDimension. Live transforms
// use it instead of rejecting the frame.
func ClampDimensions(p Patch) Patch {
	if p.Width != nil && *p.Width < MinDimension {
		p.Width = Ptr(MinDimension)
	}
	if p.Height != nil && *p.Height < MinDimension {
		p.Height = Ptr(MinDimension)
	}
	return p
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return apperr.Validation("", err.Error())
	}
	fe := errs[0]
	switch fe.Tag() {
	case "gte":
		return apperr.Validation(fe.Field(), "must be at least "+fe.Param())
	case "lte":
		return apperr.Validation(fe.Field(), "must be at most "+fe.Param())
	case "oneof":
		return apperr.Validation(fe.Field(), "must be one of ["+fe.Param()+"]")
	case "required":
		return apperr.Validation(fe.Field(), "is required")
	}
	return apperr.Validation(fe.Field(), fmt.Sprintf("failed %q", fe.Tag()))
}

// ValidateKey checks an id that becomes a segment of ephemeral paths and
// Redis channel patterns.
func ValidateKey(field, id string) error {
	if err := validatorInstance().Var(id, "required,max=128,excludesall=/*?[]\\ :"); err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) && len(errs) > 0 && errs[0].Tag() == "required" {
			return apperr.Validation(field, "is required")
		}
		return apperr.Validation(field, "must be at most 128 characters without / * ? [ ] \\ : or spaces")
	}
	return nil
}
