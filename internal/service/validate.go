package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/clipcraft/api/internal/apperr"
	"github.com/clipcraft/api/internal/model"
)

// Validator checks render configs after defaults are applied.
type Validator struct {
	v *validator.Validate
}

// NewValidator registers the render-specific tags on v.
func NewValidator(v *validator.Validate) *Validator {
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("resolution", func(fl validator.FieldLevel) bool {
		_, _, err := model.ParseResolution(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("fontcolor", func(fl validator.FieldLevel) bool {
		_, err := model.ParseColor(fl.Field().String())
		return err == nil
	})
	return &Validator{v: v}
}

// Validate returns a validation error whose "fields" detail maps each
// offending field to the rule it broke.
func (v *Validator) Validate(cfg *model.RenderConfig) error {
	if err := v.v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return apperr.Validation("invalid render config: %v", err)
		}
		return apperr.Validation("invalid render config").WithField("fields", formatValidationErrors(verrs))
	}

	fields := make(map[string]string)
	for i, seg := range cfg.Segments {
		key := func(name string) string { return fmt.Sprintf("segments[%d].%s", i, name) }

		switch seg.Type {
		case model.SegmentTypeImage:
			if seg.Duration <= 0 {
				fields[key("duration")] = "required for image segments"
			}
			if seg.TrimStart != 0 || seg.TrimEnd != 0 {
				fields[key("trimStart")] = "trim bounds only apply to video segments"
			}
		case model.SegmentTypeVideo:
			if seg.TrimEnd > 0 && seg.TrimEnd <= seg.TrimStart {
				fields[key("trimEnd")] = "must be greater than trimStart"
			}
			if seg.TrimEnd == 0 && seg.Duration <= 0 {
				fields[key("duration")] = "video segments need trimEnd or duration"
			}
		}
	}
	if len(fields) > 0 {
		return apperr.Validation("invalid render config").WithField("fields", fields)
	}

	if total := cfg.TotalDuration(); total > cfg.MaxDuration {
		return apperr.Validation("total duration %.1fs exceeds the %.0fs limit", total, cfg.MaxDuration).
			WithField("fields", map[string]string{"segments": "max_duration"})
	}

	return nil
}

func formatValidationErrors(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, e := range verrs {
		// Namespace is "RenderConfig.segments[0].type"; drop the root.
		field := e.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		out[field] = e.Tag()
	}
	return out
}
