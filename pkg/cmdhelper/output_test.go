package cmdhelper_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wuxler/pincer/pkg/cmdhelper"
)

func TestFprintf(t *testing.T) {
	w := &strings.Builder{}
	cmdhelper.Fprintf(w, "hello %s", "world")
	assert.Equal(t, "hello world\n", w.String())

	w.Reset()
	cmdhelper.Fprintf(w, "already terminated\n")
	assert.Equal(t, "already terminated\n", w.String())
}

func TestPrettifyJSON(t *testing.T) {
	want := "{\n  \"name\": \"pincer\"\n}"

	got, err := cmdhelper.PrettifyJSON([]byte(`{"name":"pincer"}`))
	require.NoError(t, err)
	assert.Equal(t, want, string(got))

	got, err = cmdhelper.PrettifyJSON(`{"name":"pincer"}`)
	require.NoError(t, err)
	assert.Equal(t, want, string(got))

	got, err = cmdhelper.PrettifyJSON(map[string]string{"name": "pincer"})
	require.NoError(t, err)
	assert.Equal(t, want, string(got))

	_, err = cmdhelper.PrettifyJSON([]byte("{not json"))
	assert.Error(t, err)
}
