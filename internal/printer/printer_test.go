package printer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/dhtc/pkg/dht"
)

// capture redirects output into buffers with colour disabled
func capture(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()
	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	prevOut, prevErr, prevColor := Stdout, Stderr, color.NoColor
	Stdout, Stderr, color.NoColor = out, errOut, true
	t.Cleanup(func() { Stdout, Stderr, color.NoColor = prevOut, prevErr, prevColor })
	return out, errOut
}

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "This is a test error")
	})

	t.Run("single suggestion is printed plainly", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("Test Error", "Explanation", []string{"Try this fix"})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "\nTry this fix\n")
		assert.NotContains(t, errOut.String(), "Either:")
	})

	t.Run("multiple suggestions are numbered", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("Test Error", "Explanation", []string{"First option", "Second option"})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "Either:\n  1. First option\n  2. Second option\n")
	})
}

func TestErrorWithContextSortsKeys(t *testing.T) {
	_, errOut := capture(t)
	err := ErrorWithContext("Test Error", "Explanation", map[string]string{
		"State":   "connecting",
		"Address": "192.0.2.1:4672",
	}, nil)
	require.Equal(t, "Test Error", err.Error())
	assert.Contains(t, errOut.String(), "  Address: 192.0.2.1:4672\n  State: connecting\n")
}

func TestCallError(t *testing.T) {
	_, errOut := capture(t)
	ce := &dht.CallError{Op: "find", State: dht.Connecting, Reason: "only allowed while connected"}
	err := CallError("find", ce)
	assert.Equal(t, "find rejected", err.Error())
	assert.Contains(t, errOut.String(), "only allowed while connected")
	assert.Contains(t, errOut.String(), "State: connecting")

	err = CallError("store", errors.New("boom"))
	assert.Equal(t, "store failed", err.Error())
}

func TestFailure(t *testing.T) {
	_, errOut := capture(t)
	err := Failure("connect", dht.CodeTimeout, "connection timed out, zero peers")
	assert.Equal(t, "connect failed", err.Error())
	assert.Contains(t, errOut.String(), "Code: timeout")
	assert.Contains(t, errOut.String(), "bootstrap contact file")
}

func TestHit(t *testing.T) {
	out, _ := capture(t)
	d, err := dht.DigestOf([]byte("song.mp3"), true)
	require.NoError(t, err)

	Hit(1, dht.RawValue(d[:], dht.Metadata{"size": "4096", "name": "song.mp3"}))
	assert.Equal(t, "  1  "+d.String()+"\n     name=song.mp3\n     size=4096\n", out.String())
}

func TestSuccessAndState(t *testing.T) {
	out, errOut := capture(t)
	Success("stored\n")
	Step("connecting\n")
	State(dht.Connected)
	Warning("slow\n")

	assert.Equal(t, "✓ stored\n→ connecting\n● connected\n", out.String())
	assert.Equal(t, "⚠️  slow\n", errOut.String())
}

func TestHitJSONL(t *testing.T) {
	out, _ := capture(t)
	d, _ := dht.DigestOf([]byte("v"), true)
	require.NoError(t, HitJSONL(dht.KeyString("k"), dht.RawValue(d[:], dht.Metadata{"a": "1"})))
	assert.JSONEq(t, `{"key":"k","digest":"`+d.String()+`","meta":{"a":"1"}}`, out.String())
	assert.True(t, bytes.HasSuffix(out.Bytes(), []byte("\n")))
}
