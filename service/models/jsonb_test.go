package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONBScanValue(t *testing.T) {
	var j JSONB
	require.NoError(t, j.Scan([]byte(`{"accuracy":0.9,"stage":"publish"}`)))
	assert.Equal(t, 0.9, j["accuracy"])

	var fromString JSONB
	require.NoError(t, fromString.Scan(`{"k":1}`))
	assert.Equal(t, float64(1), fromString["k"])

	assert.Error(t, j.Scan(42))

	require.NoError(t, j.Scan(nil))
	assert.Nil(t, j)
	v, err := j.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestJSONRawKeepsDocument(t *testing.T) {
	var raw JSONRaw
	require.NoError(t, raw.Scan([]byte(`{"topCustomers":[]}`)))
	assert.Equal(t, `{"topCustomers":[]}`, string(raw))

	v, err := raw.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"topCustomers":[]}`, v)

	out, err := raw.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"topCustomers":[]}`, string(out))

	assert.Error(t, raw.Scan(3.14))
}
