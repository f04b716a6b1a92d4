package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapKeepsSentinel(t *testing.T) {
	err := Wrap(ErrInvalidRequest, "job params")
	err = WithDetail(err, "Job ID: job-1")
	err = Wrap(err, "report driver")

	assert.True(t, IsInvalidRequestError(err))
	assert.False(t, IsNotFoundError(err))
	assert.Equal(t, "report driver: job params: invalid request", err.Error())
	assert.Contains(t, GetAllDetails(err), "Job ID: job-1")
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("job %s", "job-42")

	require.Error(t, err)
	assert.True(t, IsNotFoundError(err))
	assert.Contains(t, err.Error(), "job job-42")
}

func TestNewInvalidRequestError(t *testing.T) {
	err := NewInvalidRequestError("missing %s", "country")

	assert.True(t, IsInvalidRequestError(err))
	assert.Equal(t, "missing country: invalid request", err.Error())
}

func TestServiceUnavailable(t *testing.T) {
	err := Wrapf(ErrServiceUnavailable, "agent %s", "lawyer")
	assert.True(t, IsServiceUnavailableError(err))
	assert.False(t, IsServiceUnavailableError(nil))
}

func TestHintsSurviveWrapping(t *testing.T) {
	err := WithHint(New("agent id missing"), "set agents.lawyer_id in am.toml")
	err = Wrap(err, "config")

	hints := GetAllHints(err)
	require.Len(t, hints, 1)
	assert.Equal(t, "set agents.lawyer_id in am.toml", hints[0])
}

type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("status %d", e.code) }

func TestAsThroughWraps(t *testing.T) {
	err := Wrap(&statusError{code: 503}, "invoke auditor")

	var target *statusError
	require.True(t, As(err, &target))
	assert.Equal(t, 503, target.code)
}

func TestStackTrace(t *testing.T) {
	err := New("with stack")
	assert.Contains(t, fmt.Sprintf("%+v", err), "errors_test.go")
}

func TestNilHandling(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
	assert.Nil(t, Wrapf(nil, "context %d", 1))
	assert.Nil(t, WithHint(nil, "hint"))
	assert.Nil(t, WithDetail(nil, "detail"))
	assert.False(t, IsNotFoundError(nil))
}

func ExampleWrap() {
	err := Wrap(New("connection reset"), "failed to invoke writer agent")
	fmt.Println(err)
	// Output: failed to invoke writer agent: connection reset
}
