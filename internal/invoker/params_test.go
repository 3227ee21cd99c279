package invoker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/restkit/model"
)

type listParams struct {
	APIVersion string     `param:"api-version" validate:"required"`
	Filter     string     `param:"filter,omitempty" validate:"omitempty,max=20"`
	Top        int        `param:"top,omitempty" validate:"omitempty,min=1,max=100"`
	Since      *time.Time `param:"since,omitempty"`
	Tags       []string   `param:"tag,omitempty"`
	Internal   string     `param:"-"`
}

func TestBindStruct(t *testing.T) {
	since := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	params, err := BindStruct("listItems", &listParams{
		APIVersion: "v2",
		Filter:     "color eq 'red'",
		Top:        10,
		Since:      &since,
		Tags:       []string{"a", "b"},
		Internal:   "hidden",
	})
	require.NoError(t, err)

	assert.Equal(t, model.Params{
		"api-version": {"v2"},
		"filter":      {"color eq 'red'"},
		"top":         {"10"},
		"since":       {"2024-05-01T12:00:00Z"},
		"tag":         {"a", "b"},
	}, params)
}

func TestBindStruct_OmitsEmpty(t *testing.T) {
	params, err := BindStruct("listItems", listParams{APIVersion: "v1"})
	require.NoError(t, err)
	assert.Equal(t, model.Params{"api-version": {"v1"}}, params)
}

func TestBindStruct_Validation(t *testing.T) {
	_, err := BindStruct("listItems", &listParams{Top: 500})
	require.ErrorIs(t, err, model.ErrValidation)

	var opErr *model.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "listItems", opErr.Operation)
	require.Len(t, opErr.Details, 2)
	assert.Equal(t, model.FieldError{Field: "api-version", Code: "REQUIRED", Message: "is required"}, opErr.Details[0])
	assert.Equal(t, model.FieldError{Field: "top", Code: "MAX", Message: "must be at most 100"}, opErr.Details[1])
}

func TestBindStruct_NotAStruct(t *testing.T) {
	_, err := BindStruct("listItems", 42)
	require.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrValidation)
}
