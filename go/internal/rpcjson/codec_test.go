package rpcjson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestCodec(t *testing.T) {
	c := Codec{}
	assert.Equal(t, "json", c.Name())

	b, err := c.Marshal(message{Name: "a", Count: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"a","count":2}`, string(b))

	var got message
	require.NoError(t, c.Unmarshal(b, &got))
	assert.Equal(t, message{Name: "a", Count: 2}, got)
}

func TestCodecEmptyBody(t *testing.T) {
	var got message
	require.NoError(t, Codec{}.Unmarshal(nil, &got))
	assert.Equal(t, message{}, got)
}

func TestCodecRejectsMalformed(t *testing.T) {
	var got message
	assert.Error(t, Codec{}.Unmarshal([]byte(`{"name":`), &got))
}
