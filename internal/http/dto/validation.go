package dto

import (
	"fmt"
	"strings"

	"github.com/cesargomez89/stripedl/internal/constants"
	"github.com/cesargomez89/stripedl/internal/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) ToMap() map[string]string {
	return map[string]string{e.Field: e.Message}
}

func ToMap(errs []ValidationError) map[string]string {
	result := make(map[string]string)
	for _, e := range errs {
		result[e.Field] = e.Message
	}
	return result
}

func ToResponse(errs []ValidationError) string {
	var msgs []string
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

type ConcurrencyRequest struct {
	MaxConcurrent *int `json:"max_concurrent"`
}

func (r *ConcurrencyRequest) Validate() []ValidationError {
	var errs []ValidationError
	switch {
	case r.MaxConcurrent == nil:
		errs = append(errs, ValidationError{Field: "max_concurrent", Message: "is required"})
	case *r.MaxConcurrent < constants.MinConcurrency || *r.MaxConcurrent > constants.MaxConcurrency:
		errs = append(errs, ValidationError{
			Field:   "max_concurrent",
			Message: fmt.Sprintf("must be between %d and %d", constants.MinConcurrency, constants.MaxConcurrency),
		})
	}
	return errs
}

// ParseStates validates state names from a query string. Comma separated
// values are accepted as well as repeated parameters.
func ParseStates(values []string) ([]domain.DownloadState, []ValidationError) {
	var states []domain.DownloadState
	var errs []ValidationError
	for _, v := range values {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(strings.ToLower(name))
			if name == "" {
				continue
			}
			st := domain.DownloadState(name)
			if !st.Valid() {
				errs = append(errs, ValidationError{Field: "state", Message: fmt.Sprintf("unknown state %q", name)})
				continue
			}
			states = append(states, st)
		}
	}
	return states, errs
}
