// Package validate checks input before it is sent, using validator tags,
// and reports failures as field errors in the shape the server uses.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/bmr-systems/bmr-admin/internal/apierr"
)

var (
	nricPattern  = regexp.MustCompile(`^[STFG]\d{7}[A-Z]$`)
	titlePattern = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{N}\s&'’(),.:!?/#+\-]*$`)
)

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New(validator.WithRequiredStructEnabled())
	val.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	_ = val.RegisterValidation("nric", func(fl validator.FieldLevel) bool {
		return nricPattern.MatchString(fl.Field().String())
	})
	_ = val.RegisterValidation("title", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return s == strings.TrimSpace(s) && titlePattern.MatchString(s)
	})
	return val
}

// Struct validates s. The returned error is an *apierr.Error of kind
// validation whose field names follow the json tags, dotted for nested
// structs (contact_info.nric_fin).
func Struct(s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make(map[string][]string, len(verrs))
	for _, fe := range verrs {
		name := fieldPath(fe.Namespace())
		fields[name] = append(fields[name], Message(fe.Tag(), fe.Param()))
	}
	return apierr.Invalid(fields)
}

// Value runs tag against one value and returns the failure messages.
func Value(value any, tag string) []string {
	if tag == "" {
		return nil
	}
	err := v.Var(value, tag)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, Message(fe.Tag(), fe.Param()))
	}
	return msgs
}

// Fields validates values against rules keyed by field name. Fields with
// no rule are not checked; a rule for an absent field sees "".
func Fields(values map[string]string, rules map[string]string) map[string][]string {
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)

	var out map[string][]string
	for _, name := range names {
		if msgs := Value(values[name], rules[name]); len(msgs) > 0 {
			if out == nil {
				out = make(map[string][]string)
			}
			out[name] = msgs
		}
	}
	return out
}

// Message renders a failed rule the way the API words its own errors.
func Message(tag, param string) string {
	switch tag {
	case "required", "required_without", "required_if":
		return "This field is required."
	case "min":
		return fmt.Sprintf("Ensure this field has at least %s characters.", param)
	case "max":
		return fmt.Sprintf("Ensure this field has no more than %s characters.", param)
	case "email":
		return "Enter a valid email address."
	case "url", "http_url":
		return "Enter a valid URL."
	case "numeric", "number":
		return "A valid number is required."
	case "gt", "gte":
		return fmt.Sprintf("Ensure this value is greater than or equal to %s.", param)
	case "oneof":
		return fmt.Sprintf("Select a valid choice. Allowed: %s.", strings.ReplaceAll(param, " ", ", "))
	case "nric":
		return "NRIC/FIN must start with S, T, F, or G followed by 7 digits and an alphabet."
	case "title":
		return "Enter a valid title."
	case "datetime":
		return fmt.Sprintf("Date has wrong format. Use %s.", param)
	default:
		return "Enter a valid value."
	}
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
