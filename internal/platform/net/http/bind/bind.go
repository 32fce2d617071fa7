// Package bind decodes and validates JSON request bodies
package bind

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	perr "curator/internal/platform/errors"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entrans "github.com/go-playground/validator/v10/translations/en"
)

// DefaultMaxBytes caps a body when Options.MaxBytes is zero
const DefaultMaxBytes = 1 << 20

// Options tunes JSON, the zero value is strict with a 1MB cap
type Options struct {
	MaxBytes     int64
	AllowUnknown bool
	AllowEmpty   bool
}

type checker struct {
	v     *validator.Validate
	trans ut.Translator
}

var validate = sync.OnceValue(func() checker {
	loc := en.New()
	trans, _ := ut.New(loc, loc).GetTranslator("en")

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = entrans.RegisterDefaultTranslations(v, trans)
	short(v, trans, "min", "{0} must be at least {1}")
	short(v, trans, "max", "{0} must be at most {1}")
	return checker{v: v, trans: trans}
})

// short swaps the stock min and max messages, which spell out units per kind
func short(v *validator.Validate, trans ut.Translator, tag, text string) {
	_ = v.RegisterTranslation(tag, trans,
		func(t ut.Translator) error { return t.Add(tag, text, true) },
		func(t ut.Translator, fe validator.FieldError) string {
			msg, _ := t.T(tag, fe.Field(), fe.Param())
			return msg
		},
	)
}

// JSON decodes exactly one JSON value from the body into T and validates it
// decode failures are ErrorCodeJSON, rule failures ErrorCodeValidation with the field set
func JSON[T any](r *http.Request, o Options) (T, error) {
	var out T
	limit := o.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	defer r.Body.Close()

	dec := json.NewDecoder(io.LimitReader(r.Body, limit))
	if !o.AllowUnknown {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			if o.AllowEmpty {
				return out, nil
			}
			return out, perr.JSONErrf("empty body")
		}
		return out, perr.JSONErrf("invalid JSON: %v", err)
	}
	if dec.More() {
		return out, perr.JSONErrf("unexpected trailing data")
	}

	if err := Validate(out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Validate runs the validate tags on v
func Validate(v any) error {
	c := validate()
	err := c.v.Struct(v)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		fe := fields[0]
		return perr.WithField(perr.Newf(perr.ErrorCodeValidation, "%s", fe.Translate(c.trans)), fe.Field())
	}
	return perr.Wrap(err, perr.ErrorCodeValidation, "validation failed")
}
