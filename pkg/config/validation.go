package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// 错误信息中使用 yaml 字段名
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// ValidationError 单个字段的校验错误
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors 全部校验错误
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "config validation failed with %d error(s):", len(ve))
	for _, e := range ve {
		fmt.Fprintf(&sb, "\n  %s: %s", e.Field, e.Message)
	}
	return sb.String()
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs ValidationErrors

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			errs = append(errs, ValidationError{
				Field:   strings.TrimPrefix(fe.Namespace(), "Config."),
				Message: describe(fe),
			})
		}
	}

	seen := make(map[uint32]bool, len(c.Redirect))
	for i, e := range c.Redirect {
		if seen[e.Queue] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("redirect[%d].queue", i),
				Message: fmt.Sprintf("duplicate queue %d", e.Queue),
			})
		}
		seen[e.Queue] = true
	}

	// 镜像副本会再次被同一接口捕获
	if c.Mirror.Interface != "" && c.Mirror.Interface == c.Interface {
		errs = append(errs, ValidationError{
			Field:   "mirror.interface",
			Message: fmt.Sprintf("must differ from capture interface %q", c.Interface),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "lt":
		return fmt.Sprintf("must be less than %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "excluded_with":
		return fmt.Sprintf("cannot be set together with %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
