package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetAddIncludesDelete(t *testing.T) {
	s := NewSet()
	assert.False(t, s.Includes("a"))

	s.Add("a")
	assert.True(t, s.Includes("a"))

	s.Delete("a")
	assert.False(t, s.Includes("a"))
}

func TestSetListContainsEveryMember(t *testing.T) {
	s := NewSet()
	s.Add("a")
	s.Add("b")
	s.Add("a")
	assert.ElementsMatch(t, []string{"a", "b"}, s.List())
}
