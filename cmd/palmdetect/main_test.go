package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvr-ai/go-palm/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	app := newApp()
	app.Writer = &buf
	app.ErrWriter = &buf
	err := app.Run(append([]string{"palmdetect"}, args...))
	return buf.String(), err
}

func TestAnchorsCommand(t *testing.T) {
	out, err := run(t, "anchors")
	require.NoError(t, err)
	assert.Equal(t, "896 anchors\n", out)
}

func TestAnchorsCommand_List(t *testing.T) {
	out, err := run(t, "anchors", "--list")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 897)
	assert.Equal(t, "   0 x=0.031250 y=0.031250 w=1.000000 h=1.000000", lines[1])
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "palm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nms:\n  iou_threshold: 0.4\n"), 0o600))

	out, err := run(t, "-c", path, "--model", "hand.onnx", "config")
	require.NoError(t, err)

	cfg, err := config.Parse([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, float32(0.4), cfg.NMS.IoUThreshold)
	assert.Equal(t, "hand.onnx", cfg.Model.Path)
}

func TestInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "palm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("anchors:\n  input_width: 256\n  input_height: 256\n"), 0o600))

	_, err := run(t, "-c", path, "anchors")
	assert.Error(t, err)
}

type keys struct {
	pressed []int
	calls   int
}

func (k *keys) WaitKey(int) int {
	k.calls++
	if len(k.pressed) == 0 {
		return -1
	}
	key := k.pressed[0]
	k.pressed = k.pressed[1:]
	return key
}

func TestPollQuit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w := &keys{pressed: []int{-1, 'x', 'q'}}

	assert.False(t, pollQuit(w, cancel))
	assert.False(t, pollQuit(w, cancel))
	require.NoError(t, ctx.Err())

	assert.True(t, pollQuit(w, cancel))
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Equal(t, 3, w.calls)
}
