package utils

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleInput struct {
	Name  string `validate:"required"`
	Level string `validate:"omitempty,oneof=low high"`
	Count int    `validate:"omitempty,gte=1"`
	Site  string `validate:"omitempty,url"`
}

func TestValidateStruct_Valid(t *testing.T) {
	assert.NoError(t, ValidateStruct(&sampleInput{Name: "x", Level: "low", Count: 2}))
}

func TestValidateStruct_FieldMessages(t *testing.T) {
	err := ValidateStruct(&sampleInput{Level: "medium", Count: -1, Site: "not-a-url"})
	require.Error(t, err)
	require.True(t, IsValidationError(err))

	fields := GetValidationFields(err)
	assert.Equal(t, "Name is required", fields["Name"])
	assert.Equal(t, "Level must be one of: low high", fields["Level"])
	assert.Equal(t, "Count must be greater than or equal to 1", fields["Count"])
	assert.Equal(t, "Site must be a valid URL", fields["Site"])
}

func TestValidationError_Error(t *testing.T) {
	err := ValidateStruct(&sampleInput{})
	require.Error(t, err)
	assert.Equal(t, "Validation failed", err.Error())
}

func TestIsValidationError(t *testing.T) {
	assert.False(t, IsValidationError(errors.New("plain")))
	assert.False(t, IsValidationError(nil))
	assert.Nil(t, GetValidationFields(errors.New("plain")))
}
