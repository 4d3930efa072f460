package ingest

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEReaderParsesIDAndData(t *testing.T) {
	raw := "id: 42\ndata: {\"BlockAdded\":{}}\n\n"
	r := newSSEReader(bufio.NewReader(strings.NewReader(raw)))

	ev, err := r.next()
	require.NoError(t, err)
	require.NotNil(t, ev.ID)
	assert.Equal(t, "42", *ev.ID)
	assert.Equal(t, `{"BlockAdded":{}}`, ev.Data)
}

func TestSSEReaderMultilineData(t *testing.T) {
	raw := "data: line one\ndata: line two\n\n"
	r := newSSEReader(bufio.NewReader(strings.NewReader(raw)))

	ev, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", ev.Data)
	assert.Nil(t, ev.ID)
}

func TestSSEReaderIgnoresCommentLines(t *testing.T) {
	raw := ": keep-alive\ndata: payload\n\n"
	r := newSSEReader(bufio.NewReader(strings.NewReader(raw)))

	ev, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, "payload", ev.Data)
}

func TestSSEReaderSequentialFrames(t *testing.T) {
	raw := "data: first\n\ndata: second\n\n"
	r := newSSEReader(bufio.NewReader(strings.NewReader(raw)))

	first, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, "first", first.Data)

	second, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, "second", second.Data)
}

func TestSSEReaderReturnsEOFAtStreamEnd(t *testing.T) {
	raw := "data: only\n\n"
	r := newSSEReader(bufio.NewReader(strings.NewReader(raw)))

	_, err := r.next()
	require.NoError(t, err)

	_, err = r.next()
	assert.ErrorIs(t, err, io.EOF)
}
