package jsonprint_test

import (
	"bytes"
	"testing"

	"github.com/jlijian3/nginx-ofp/internal/assert"
	"github.com/jlijian3/nginx-ofp/internal/print/jsonprint"
)

type counter struct {
	Call  string `json:"call"`
	Count int    `json:"count"`
}

func TestWriteNothing(t *testing.T) {
	b := new(bytes.Buffer)
	w := jsonprint.NewWriter[counter](b)
	assert.OK(t, w.Close())
	assert.Equal(t, b.String(), "")
}

func TestWriteValues(t *testing.T) {
	b := new(bytes.Buffer)
	w := jsonprint.NewWriter[counter](b)
	_, err := w.Write([]counter{
		{Call: "accept", Count: 2},
		{Call: "<recv>", Count: 10},
	})
	assert.OK(t, err)
	assert.OK(t, w.Close())
	assert.Equal(t, b.String(), `{
  "call": "accept",
  "count": 2
}
{
  "call": "<recv>",
  "count": 10
}
`)
}
