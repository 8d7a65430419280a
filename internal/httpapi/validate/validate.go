// Package validate centralizes request-body validation so handlers share one
// error-formatting convention, built on go-playground/validator/v10 the way
// gin's own binding layer already does internally — this package only adds
// field-level error formatting gin's default ShouldBindJSON doesn't give you.
package validate

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var instance = validator.New()

// FieldErrors formats a validator.ValidationErrors into one line per field,
// e.g. `answer_value: failed "max" validation`.
func FieldErrors(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q validation", fe.Field(), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

// Struct runs struct-tag validation outside the gin binding path, for
// payloads assembled programmatically (e.g. a CLI-issued import request)
// rather than bound straight off an HTTP body.
func Struct(s any) error {
	return instance.Struct(s)
}
