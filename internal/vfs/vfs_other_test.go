//go:build !linux

package vfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tangramcore/tangram/internal/id"
)

func TestLoopbackServerReportsUnsupported(t *testing.T) {
	s := NewLoopbackServer(nil)
	err := s.Mount(context.Background(), t.TempDir(), id.Nil)
	require.Error(t, err)
	require.NoError(t, s.Close())
}
