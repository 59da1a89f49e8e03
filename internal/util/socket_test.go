package util

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsSocketFile(t *testing.T) {
	base := t.TempDir()

	path := filepath.Join(base, "probe.sock")
	lis, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer lis.Close()

	isSock, err := IsSocketFile(path)
	require.NoError(t, err)
	require.True(t, isSock)

	plain := filepath.Join(base, "plain")
	require.NoError(t, os.WriteFile(plain, []byte("x"), 0o644))
	isSock, err = IsSocketFile(plain)
	require.NoError(t, err)
	require.False(t, isSock)

	_, err = IsSocketFile(filepath.Join(base, "missing"))
	require.Error(t, err)
}

func TestListenControl(t *testing.T) {
	path := filepath.Join(t.TempDir(), "control.sock")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := ListenControl(ctx, path, func(cmd string) string {
		return "echo:" + strings.ToLower(cmd)
	})
	require.NoError(t, err)

	conn, err := net.DialTimeout("unix", path, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("STATUS\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "echo:status\n", line)

	// Blank lines are ignored, the next command still answers.
	_, err = conn.Write([]byte("\nPING\n"))
	require.NoError(t, err)
	line, err = reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "echo:ping\n", line)

	// Cancelling the context removes the socket file.
	cancel()
	require.Eventually(t, func() bool { return !Exists(path) }, 2*time.Second, 20*time.Millisecond)
}
