package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/quotamux/quotamux/internal/config"
)

// closeConn closes a network connection, logging any error to stderr.
// Close errors are not actionable in this read-only context.
func closeConn(c net.Conn) {
	if err := c.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: close error: %v\n", err)
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check if the quotamux admin server is running",
	Long: `Check whether a quotamux admin server is listening on the address
configured in server.listen by attempting a raw HTTP request against it.
Any HTTP response, including an authentication rejection, counts as
"running" since it proves a server is behind the socket.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := checkListening(cfg.Server.Listen); err != nil {
		cmd.Printf("✗ quotamux is not running (%s)\n", cfg.Server.Listen)
		return err
	}

	cmd.Printf("✓ quotamux is running (%s)\n", cfg.Server.Listen)
	return nil
}

// checkListening performs a raw HTTP request against /api/rpm-status
// and treats any parseable status line as evidence the server is up.
func checkListening(listenAddr string) error {
	if listenAddr == "" {
		return fmt.Errorf("server listen address is empty")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("server not reachable: %w", err)
	}
	defer closeConn(conn)

	_, err = fmt.Fprintf(conn, "GET /api/rpm-status HTTP/1.1\r\nHost: localhost\r\nConnection: close\r\n\r\n")
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	resp := bufio.NewReader(conn)
	line, err := resp.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if len(line) >= 9 && line[:5] == "HTTP/" {
		return nil
	}
	return fmt.Errorf("unexpected response: %s", line)
}
