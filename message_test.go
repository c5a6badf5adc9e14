package iso14230

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage_Len(t *testing.T) {
	m := &Message{Data: []byte{1, 2, 3}}
	assert.Equal(t, 3, m.Len())
}

func TestMessage_Release_NoPanic(t *testing.T) {
	m := &Message{Data: []byte{1}}
	assert.NotPanics(t, m.Release)
}
