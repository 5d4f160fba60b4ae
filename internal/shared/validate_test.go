package shared

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type sampleLine struct {
	Quantity decimal.Decimal `json:"quantity" validate:"gt=0"`
	Unit     string          `json:"unit" validate:"required"`
}

type sampleInput struct {
	Name  string       `json:"name" validate:"required"`
	Lines []sampleLine `json:"lines" validate:"min=1,dive"`
}

func TestValidateStructReportsEveryField(t *testing.T) {
	err := ValidateStruct(sampleInput{Lines: []sampleLine{
		{Quantity: decimal.NewFromInt(2), Unit: "pc"},
		{Quantity: decimal.NewFromInt(-1)},
	}})
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.True(t, verr.Has("name"))
	require.True(t, verr.Has("lines[1].quantity"))
	require.True(t, verr.Has("lines[1].unit"))
	require.False(t, verr.Has("lines[0].quantity"))
}

func TestValidateStructPasses(t *testing.T) {
	err := ValidateStruct(sampleInput{Name: "ok", Lines: []sampleLine{{Quantity: decimal.RequireFromString("0.5"), Unit: "kg"}}})
	require.NoError(t, err)
}

func TestViolationsMerge(t *testing.T) {
	var v Violations
	require.NoError(t, v.Err())
	v.Add("justification", "is required")
	require.True(t, v.Merge(&ValidationError{Fields: []FieldError{{Field: "items", Message: "empty"}}}))
	require.False(t, v.Merge(ErrNotFound))

	err := v.Err()
	require.True(t, IsValidation(err))
	require.Contains(t, err.Error(), "justification: is required")
	require.Contains(t, err.Error(), "items: empty")
}

func TestPageWindow(t *testing.T) {
	p := NewPage(0, -3)
	require.Equal(t, Page{Limit: 20, Offset: 0}, p)

	start, end := NewPage(2, 3).Window(4)
	require.Equal(t, 3, start)
	require.Equal(t, 4, end)

	start, end = NewPage(2, 10).Window(4)
	require.Equal(t, 4, start)
	require.Equal(t, 4, end)
	require.Equal(t, 200, NewPage(1000, 0).Limit)
}
