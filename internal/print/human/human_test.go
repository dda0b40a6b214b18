package human_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jlijian3/nginx-ofp/internal/assert"
	"github.com/jlijian3/nginx-ofp/internal/print/human"
	"gopkg.in/yaml.v3"
)

func TestPath(t *testing.T) {
	separator := string([]byte{filepath.Separator})

	tests := []struct {
		in  string
		out string
	}{
		{in: ".", out: "."},
		{in: separator, out: separator},
		{in: filepath.Join(".", "hello", "world"), out: filepath.Join(".", "hello", "world")},
		{in: filepath.Join("~", "hello", "world"), out: filepath.Join(os.Getenv("HOME"), "hello", "world")},
	}

	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			path := human.Path("")
			assert.OK(t, path.UnmarshalText([]byte(test.in)))
			resolved, err := path.Resolve()
			assert.OK(t, err)
			assert.Equal(t, resolved, test.out)
		})
	}
}

func TestBytes(t *testing.T) {
	tests := []struct {
		in  string
		out human.Bytes
		str string
	}{
		{in: "0", out: 0, str: "0 B"},
		{in: "512", out: 512, str: "512 B"},
		{in: "64 KiB", out: 64 * human.KiB, str: "64 KiB"},
		{in: "1.5Ki", out: 1536, str: "1.5 KiB"},
		{in: "2KB", out: 2000, str: "1.95 KiB"},
		{in: "64mib", out: 64 * human.MiB, str: "64 MiB"},
		{in: "1 GiB", out: human.GiB, str: "1 GiB"},
	}

	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			b, err := human.ParseBytes(test.in)
			assert.OK(t, err)
			assert.Equal(t, b, test.out)
			assert.Equal(t, b.String(), test.str)
		})
	}

	for _, in := range []string{"", "-1", "12 parsecs", "KiB"} {
		_, err := human.ParseBytes(in)
		assert.True(t, err != nil)
	}
}

func TestYAML(t *testing.T) {
	var value struct {
		Size     human.Bytes    `yaml:"size"`
		Interval human.Duration `yaml:"interval"`
	}
	assert.OK(t, yaml.Unmarshal([]byte("size: 16 KiB\ninterval: 2ms\n"), &value))
	assert.Equal(t, value.Size, 16*human.KiB)
	assert.Equal(t, time.Duration(value.Interval), 2*time.Millisecond)

	b, err := yaml.Marshal(value)
	assert.OK(t, err)
	assert.Equal(t, string(b), "size: 16 KiB\ninterval: 2ms\n")
}
