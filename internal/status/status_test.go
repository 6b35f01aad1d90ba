package status

import (
	stderrors "errors"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, OK},
		{"plain", stderrors.New("boom"), Unknown},
		{"typed", Errorf(UnsupportedType, "int16"), UnsupportedType},
		{"wrapped", errors.Wrap(Errorf(FailedCheckCondition, "window"), "op 3"), FailedCheckCondition},
		{"backend", FromBackend(io.EOF, "cmsis"), Backend},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestSentinelMatching(t *testing.T) {
	err := errors.WithMessage(Errorf(UnsupportedActivation, "tanh"), "node 7")

	assert.ErrorIs(t, err, ErrUnsupportedActivation)
	assert.NotErrorIs(t, err, ErrUnsupportedType)
	assert.Contains(t, err.Error(), "UnsupportedActivation: tanh")
}

func TestBackendPassThrough(t *testing.T) {
	err := FromBackend(io.ErrUnexpectedEOF, "conv kernel")

	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Nil(t, FromBackend(nil, "ignored"))
}

func TestCheckf(t *testing.T) {
	require.NoError(t, Checkf(true, "never"))

	err := Checkf(false, "pool window of %d elements", 0)
	assert.ErrorIs(t, err, ErrFailedCheckCondition)
	assert.Equal(t, "FailedCheckCondition: pool window of 0 elements", errors.Cause(err).Error())
}
