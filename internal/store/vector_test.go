package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeVector(t *testing.T) {
	assert.Equal(t, "[1,0.5,-0.25]", encodeVector([]float32{1, 0.5, -0.25}))
	assert.Equal(t, "[]", encodeVector(nil))
}
