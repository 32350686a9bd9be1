package main

import (
	"bufio"
	"os"
	"strings"

	"golang.org/x/term"

	"wallcharge/pkg/fleet"
)

func newFleetClient(accessToken string) (*fleet.Client, error) {
	return fleet.New(accessToken, "")
}

// readSecret reads a secret from stdin, without echo when stdin is a
// terminal.
func readSecret() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		os.Stderr.WriteString("\n")
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(secret)), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
