package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ActorHeader carries the caller identity resolved by the fronting gateway.
const ActorHeader = "X-Actor"

// Actor returns the caller identity for audit records.
func Actor(r *http.Request) string {
	if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
		return actor
	}
	return "system"
}

// Bind decodes a JSON body into dto and validates its struct tags.
func Bind(r *http.Request, v *validator.Validate, dto any) error {
	if err := DecodeJSON(r, dto); err != nil {
		return err
	}
	return Validate(v, dto)
}

// Validate runs struct validation and flattens field errors into one ErrValidation.
func Validate(v *validator.Validate, dto any) error {
	err := v.Struct(dto)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	sort.Strings(msgs)
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}

// URLUUID parses a UUID path parameter.
func URLUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s %q is not a uuid", ErrValidation, name, raw)
	}
	return id, nil
}

// OptionalUUID parses an optional UUID value; empty yields nil.
func OptionalUUID(raw string) (*uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a uuid", ErrValidation, raw)
	}
	return &id, nil
}
