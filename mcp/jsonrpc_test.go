package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aivox/voxengine/model"
)

func newTestRegistry() *Registry {
	reg := NewRegistry()
	level := int64(1)
	reg.AddTool("set_volume", Tool{
		Description: "set the speaker volume",
		Params: map[string]ParamSchema{
			"level": IntegerParam(nil, &level, nil),
		},
	})
	return reg
}

func TestParseRequestRejectsWrongVersion(t *testing.T) {
	_, err := ParseRequest([]byte(`{"jsonrpc":"1.0","id":1,"method":"initialize"}`))
	require.Error(t, err)
}

func TestHandleInitialize(t *testing.T) {
	reg := newTestRegistry()
	req, err := ParseRequest([]byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`))
	require.NoError(t, err)

	resp, pending, err := Handle(reg, "1.0.0", req)
	require.NoError(t, err)
	assert.Nil(t, pending)
	require.NotNil(t, resp)
	assert.Equal(t, int64(1), resp.ID)
	result := resp.Result.(map[string]any)
	assert.Equal(t, "2024-11-05", result["protocolVersion"])
}

func TestHandleToolsListRequiredField(t *testing.T) {
	reg := newTestRegistry()
	req, err := ParseRequest([]byte(`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`))
	require.NoError(t, err)

	resp, pending, err := Handle(reg, "1.0.0", req)
	require.NoError(t, err)
	assert.Nil(t, pending)
	require.NotNil(t, resp)

	result := resp.Result.(map[string]any)
	tools := result["tools"].([]map[string]any)
	require.Len(t, tools, 1)
	schema := tools[0]["inputSchema"].(map[string]any)
	assert.Equal(t, []string{"level"}, schema["required"])
}

func TestHandleToolsCallProducesPendingCallNoResponse(t *testing.T) {
	reg := newTestRegistry()
	req, err := ParseRequest([]byte(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"set_volume","arguments":{"level":42}}}`))
	require.NoError(t, err)

	resp, pending, err := Handle(reg, "1.0.0", req)
	require.NoError(t, err)
	assert.Nil(t, resp)
	require.NotNil(t, pending)
	assert.Equal(t, int64(3), pending.ID)
	assert.Equal(t, "set_volume", pending.Name)
	assert.Equal(t, int64(42), pending.Arguments["level"].Int)
}

func TestHandleToolsCallOmitsUnknownArgumentKinds(t *testing.T) {
	reg := newTestRegistry()
	req, err := ParseRequest([]byte(`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"set_volume","arguments":{"level":1,"extra":[1,2,3],"nested":{"a":1},"nothing":null}}}`))
	require.NoError(t, err)

	_, pending, err := Handle(reg, "1.0.0", req)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Len(t, pending.Arguments, 1)
	_, ok := pending.Arguments["extra"]
	assert.False(t, ok)
}

func TestBuildCallResponseAndError(t *testing.T) {
	resp := BuildCallResponse(5, model.NewIntVariant(7))
	result := resp.Result.(map[string]any)
	content := result["content"].([]map[string]any)
	assert.Equal(t, "7", content[0]["text"])
	assert.Equal(t, false, result["isError"])

	errResp := BuildCallError(6, "volume out of range")
	require.NotNil(t, errResp.Error)
	assert.Equal(t, "volume out of range", errResp.Error.Message)
}
