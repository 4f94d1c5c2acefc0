package core

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := Wrap(KindHandshakeFailure, "ws.connect", io.EOF, "could not reach device")

	assert.ErrorIs(t, err, ErrHandshakeFailure)
	assert.NotErrorIs(t, err, ErrTransportUnavailable)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, KindHandshakeFailure, KindOf(err))

	wrapped := fmt.Errorf("connect: %w", err)
	assert.ErrorIs(t, wrapped, ErrHandshakeFailure)
	assert.Equal(t, KindHandshakeFailure, KindOf(wrapped))
}

func TestErrorString(t *testing.T) {
	err := Errorf(KindIncompletePacket, "codec.packet", "got %d bytes", 9)
	assert.Equal(t, "codec.packet: incomplete-packet: got 9 bytes", err.Error())

	assert.Equal(t, "schema-violation", ErrSchemaViolation.Error())
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(KindHandshakeFailure, "op", nil, "msg"))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestRecoverable(t *testing.T) {
	assert.True(t, KindIncompletePacket.Recoverable())
	assert.True(t, KindMalformedMessage.Recoverable())
	assert.True(t, KindSchemaViolation.Recoverable())
	assert.False(t, KindHandshakeFailure.Recoverable())
	assert.False(t, KindUnsolicitedDisconnect.Recoverable())
}

func TestParseTransportKind(t *testing.T) {
	for in, want := range map[string]TransportKind{
		"link-a": LinkA, "ble": LinkA, "bluetooth": LinkA,
		"link-b": LinkB, "ws": LinkB, "wifi": LinkB,
	} {
		got, ok := ParseTransportKind(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := ParseTransportKind("serial")
	assert.False(t, ok)
}
