package sudoers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCharStreamTracksLineAndColumn(t *testing.T) {
	cs := newCharStream("f", "ab\ncd")
	assert.Equal(t, 'a', cs.peek())
	assert.Equal(t, Position{File: "f", Line: 1, Col: 1}, cs.pos())

	cs.next()
	assert.Equal(t, 'b', cs.peek())
	assert.Equal(t, Position{File: "f", Line: 1, Col: 2}, cs.pos())

	cs.next()
	assert.Equal(t, '\n', cs.peek())

	cs.next()
	assert.Equal(t, 'c', cs.peek())
	assert.Equal(t, Position{File: "f", Line: 2, Col: 1}, cs.pos())
}

func TestCharStreamEOF(t *testing.T) {
	cs := newCharStream("f", "")
	assert.Equal(t, eof, cs.peek())
	assert.Equal(t, eof, cs.next())
	assert.Equal(t, eof, cs.peek())
}

func TestCharStreamUTF8(t *testing.T) {
	cs := newCharStream("f", "é€")
	assert.Equal(t, 'é', cs.next())
	assert.Equal(t, '€', cs.next())
	assert.Equal(t, eof, cs.peek())
}
