package util

import (
	"bufio"
	"context"
	"net"
	"strings"
)

// ListenControl serves a line-oriented command protocol on a unix
// socket, for local administrative callers that bypass the network
// surfaces. Each inbound line is handed to handle; its return value is
// written back as the response line.
func ListenControl(ctx context.Context, path string, handle func(cmd string) string) error {
	if err := VerifyFileDoesNotExist(path); err != nil {
		return err
	}
	lis, err := net.Listen("unix", path)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = lis.Close()
		_ = RemoveFileIfExists(path)
	}()

	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				scanner := bufio.NewScanner(conn)
				for scanner.Scan() {
					cmd := strings.TrimSpace(scanner.Text())
					if cmd == "" {
						continue
					}
					resp := handle(cmd)
					if _, err := conn.Write([]byte(resp + "\n")); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	return nil
}
