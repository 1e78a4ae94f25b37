package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoolToYesNo(t *testing.T) {
	assert.Equal(t, "Yes", BoolToYesNo(true))
	assert.Equal(t, "No", BoolToYesNo(false))
}
