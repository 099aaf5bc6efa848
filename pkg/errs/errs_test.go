package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	cause := errors.New("disk gone")

	t.Run("storage_is_fatal", func(t *testing.T) {
		err := Storage("open cache", cause)
		assert.True(t, errors.Is(err, ErrStorage))
		assert.True(t, errors.Is(err, cause))
		assert.True(t, IsFatal(err))
		assert.Contains(t, err.Error(), "open cache")
	})

	t.Run("capacity_is_fatal", func(t *testing.T) {
		err := Capacity("intersect", cause)
		assert.True(t, errors.Is(err, ErrCapacity))
		assert.True(t, IsFatal(err))
	})

	t.Run("order_is_not_fatal", func(t *testing.T) {
		err := Order("add boundary", "%v <= %v", 1.0, 2.0)
		assert.True(t, errors.Is(err, ErrOrder))
		assert.False(t, IsFatal(err))
		assert.Contains(t, err.Error(), "1 <= 2")
	})

	t.Run("not_found_survives_wrapping", func(t *testing.T) {
		err := fmt.Errorf("resolving target: %w", NotFound("open image", "ev9"))
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.False(t, IsFatal(err))
	})

	t.Run("nil_is_not_fatal", func(t *testing.T) {
		assert.False(t, IsFatal(nil))
	})

	t.Run("bare_sentinel", func(t *testing.T) {
		assert.True(t, IsFatal(fmt.Errorf("x: %w", ErrStorage)))
		assert.False(t, IsFatal(errors.New("other")))
	})
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "invalid", ClassInvalid.String())
	assert.Equal(t, "fatal", ClassFatal.String())
	assert.Equal(t, "unknown", Class(9).String())
}
