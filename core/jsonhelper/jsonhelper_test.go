package jsonhelper_test

import (
	"testing"

	"github.com/usnistgov/pcidma/core/jsonhelper"
	"github.com/usnistgov/pcidma/core/testenv"
)

func TestRoundtrip(t *testing.T) {
	assert, _ := testenv.MakeAR(t)

	type output struct {
		RingSize int    `json:"ringSize"`
		Backend  string `json:"backend"`
	}

	var out output
	assert.NoError(jsonhelper.Roundtrip(map[string]any{"ringSize": 32, "backend": "nwl", "extra": true}, &out))
	assert.Equal(output{RingSize: 32, Backend: "nwl"}, out)

	assert.Error(jsonhelper.Roundtrip(map[string]any{"extra": true}, &out, jsonhelper.DisallowUnknownFields))
	assert.Error(jsonhelper.Roundtrip(func() {}, &out))
}
