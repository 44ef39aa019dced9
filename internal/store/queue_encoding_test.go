package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeQueueText_NoMetadata(t *testing.T) {
	encoded := EncodeQueueText("hello", nil, nil)
	assert.Equal(t, "hello", encoded)

	text, pairID, parentID := DecodeQueueText(encoded)
	assert.Equal(t, "hello", text)
	assert.Nil(t, pairID)
	assert.Nil(t, parentID)
}

func TestEncodeDecodeQueueText_WithMetadata(t *testing.T) {
	pair := int64(7)
	parent := int64(42)

	encoded := EncodeQueueText("body text", &pair, &parent)
	text, gotPair, gotParent := DecodeQueueText(encoded)

	assert.Equal(t, "body text", text)
	require.NotNil(t, gotPair)
	require.NotNil(t, gotParent)
	assert.Equal(t, pair, *gotPair)
	assert.Equal(t, parent, *gotParent)
}

func TestEncodeDecodeQueueText_PartialMetadata(t *testing.T) {
	parent := int64(99)
	encoded := EncodeQueueText("x", nil, &parent)

	text, gotPair, gotParent := DecodeQueueText(encoded)
	assert.Equal(t, "x", text)
	assert.Nil(t, gotPair)
	require.NotNil(t, gotParent)
	assert.Equal(t, parent, *gotParent)
}

func TestDecodeQueueText_PlainTextWithoutPrefix(t *testing.T) {
	text, pairID, parentID := DecodeQueueText("just some text, with a comma")
	assert.Equal(t, "just some text, with a comma", text)
	assert.Nil(t, pairID)
	assert.Nil(t, parentID)
}
