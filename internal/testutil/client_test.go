package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedClientGenerator(t *testing.T) {
	g := NewFixedClientGenerator("editor")
	assert.Equal(t, "editor", g.Generate())
	assert.Equal(t, "editor", g.Generate())

	assert.Equal(t, "test-client", NewFixedClientGenerator("").Generate())
}
