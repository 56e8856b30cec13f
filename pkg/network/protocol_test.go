package network

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/go-dronegym/pkg/engine"
	"github.com/opd-ai/go-dronegym/pkg/validation"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, MsgStep, StepMessage{Actions: []float64{0.5, -1}}))

	raw := buf.Bytes()
	assert.Equal(t, byte(MsgStep), raw[0])
	assert.Equal(t, uint32(len(raw)-5), binary.BigEndian.Uint32(raw[1:5]))

	msgType, data, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, MsgStep, msgType)
	assert.JSONEq(t, `{"actions":[0.5,-1]}`, string(data))
}

func TestReadFrame_RejectsOversizedLength(t *testing.T) {
	header := []byte{byte(MsgStep), 0, 0, 0, 0}
	binary.BigEndian.PutUint32(header[1:], validation.MaxMessageSize+1)

	_, _, err := ReadFrame(bytes.NewReader(header))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadFrame_Truncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, MsgReset, struct{}{}))
	truncated := buf.Bytes()[:buf.Len()-1]

	_, _, err := ReadFrame(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestWriteFrame_RejectsOversizedBody(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, MsgStep, StepMessage{Actions: make([]float64, validation.MaxMessageSize)})
	assert.ErrorIs(t, err, ErrFrameTooLarge)
	assert.Zero(t, buf.Len())
}

func TestMessageType_String(t *testing.T) {
	assert.Equal(t, "step_result", MsgStepResult.String())
	assert.Equal(t, "unknown(200)", MessageType(200).String())
}

func TestErrorCodesRoundTrip(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{engine.ErrNotReset, CodeNotReset},
		{engine.ErrEpisodeDone, CodeEpisodeDone},
		{engine.ErrActionSize, CodeActionSize},
		{engine.ErrUnsupportedActionSpace, CodeUnsupportedActions},
		{validation.ErrInvalidActions, CodeInvalidActions},
		{validation.ErrRateLimited, CodeRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.code, errorCode(tt.err))

			remote := &RemoteError{ErrorMessage{Code: tt.code, Message: tt.err.Error()}}
			assert.True(t, errors.Is(remote, tt.err))
		})
	}

	assert.Equal(t, CodeInternal, errorCode(errors.New("boom")))
	assert.Equal(t, CodeBadRequest, errorCode(errBadRequest))
}
