package shell

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleRunsCommand(t *testing.T) {
	payload, err := json.Marshal(Cmd{Command: "echo", Args: []string{"hello"}})
	require.NoError(t, err)

	data, err := Shell{}.Handle(context.Background(), payload)
	require.NoError(t, err)

	var out Output
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Contains(t, out.Output, "hello")
}

func TestHandleMissingCommand(t *testing.T) {
	_, err := Shell{}.Handle(context.Background(), json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestHandleBadPayload(t *testing.T) {
	_, err := Shell{}.Handle(context.Background(), json.RawMessage(`not json`))
	assert.Error(t, err)
}

func TestHandleCommandFailure(t *testing.T) {
	payload, err := json.Marshal(Cmd{Command: "false"})
	require.NoError(t, err)

	_, err = Shell{}.Handle(context.Background(), payload)
	assert.Error(t, err)
}
