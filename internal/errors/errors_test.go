package errors

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderCarriesMetadata(t *testing.T) {
	t.Parallel()

	err := New(io.ErrUnexpectedEOF).
		Component(ComponentRecorder).
		Category(CategoryFileIO).
		Context("path", "/tmp/session.mp3").
		Build()

	require.Error(t, err)
	assert.Equal(t, ComponentRecorder, err.Component)
	assert.Equal(t, CategoryFileIO, err.Category)
	assert.Equal(t, "/tmp/session.mp3", err.GetContext()["path"])
	assert.True(t, Is(err, io.ErrUnexpectedEOF))
}

func TestBuilderNilErrorUsesContextMessage(t *testing.T) {
	t.Parallel()

	err := New(nil).
		Category(CategoryValidation).
		Context("error", "bit rate out of range").
		Build()

	assert.Equal(t, "bit rate out of range", err.Error())
	assert.Equal(t, CategoryValidation, err.Category)
}

func TestCategoryMatching(t *testing.T) {
	t.Parallel()

	a := New(NewStd("ring full")).Category(CategoryOverflow).Build()
	b := New(NewStd("other overflow")).Category(CategoryOverflow).Build()
	c := New(NewStd("bad config")).Category(CategoryConfiguration).Build()

	assert.True(t, Is(a, b))
	assert.False(t, Is(a, c))
}

func TestAsUnwrapsEnhancedError(t *testing.T) {
	t.Parallel()

	err := Newf("device %d not present", 3).Component(ComponentControl).Build()

	var ee *EnhancedError
	require.True(t, As(err, &ee))
	assert.Equal(t, ComponentControl, ee.Component)
}
