package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventKind(t *testing.T) {
	assert.Equal(t, "ADT^A28", EventAdd.MessageType())
	assert.Equal(t, "ADT^A31", EventUpdate.MessageType())
	assert.Equal(t, "ADT^A40", EventMerge.MessageType())

	assert.True(t, EventAdd.Valid())
	assert.True(t, EventUpdate.Valid())
	assert.True(t, EventMerge.Valid())
	assert.False(t, EventKind("A01").Valid())
	assert.False(t, EventKind("").Valid())
}
