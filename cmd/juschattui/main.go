package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/brunakemp/juschat/internal/ctl"
	"github.com/brunakemp/juschat/internal/session"
	"github.com/brunakemp/juschat/internal/tui"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	socketPath := session.SocketPath(sessionName)

	// Probe daemon health; auto-start if needed.
	if !probeDaemon(socketPath) {
		fmt.Fprintf(os.Stderr, "daemon not running for session %q, starting...\n", sessionName)
		if err := startDaemon(sessionName); err != nil {
			fmt.Fprintf(os.Stderr, "failed to start daemon: %v\n", err)
			os.Exit(1)
		}
		if !waitForDaemon(socketPath, 10*time.Second) {
			fmt.Fprintf(os.Stderr, "daemon did not become ready\n")
			os.Exit(1)
		}
	}

	c := ctl.New(socketPath)

	app := tui.NewApp(c, sessionName)
	if err := app.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// probeDaemon checks if a daemon is running and responsive on the socket.
func probeDaemon(socketPath string) bool {
	c := ctl.New(socketPath)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := c.Status(ctx)
	return err == nil
}

func startDaemon(sessionName string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	daemon := filepath.Join(filepath.Dir(executable), "juschatd")

	if _, err := os.Stat(daemon); err != nil {
		daemon = "juschatd"
	}

	cmd := exec.Command(daemon, "--session", sessionName)
	// Inherit stderr so daemon startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

// waitForDaemon polls the daemon with a real status request (not just a
// socket connect).
func waitForDaemon(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probeDaemon(socketPath) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}
