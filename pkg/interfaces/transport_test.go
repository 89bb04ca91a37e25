package interfaces

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageType_String(t *testing.T) {
	assert.Equal(t, "text", MsgText.String())
	assert.Equal(t, "binary", MsgBinary.String())
	assert.Equal(t, "control", MsgControl.String())
	assert.Equal(t, "unknown", MessageType(42).String())
}
