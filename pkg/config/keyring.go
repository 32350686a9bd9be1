package config

import (
	"fmt"
	"os"

	"github.com/99designs/keyring"
	"golang.org/x/term"
)

const (
	keyringServiceName = "com.wallcharge.auth"
	keyringDirectory   = "~/.wallcharge_keys"
)

func promptPassword(prompt string) (string, error) {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		fd = int(os.Stderr.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("no terminal available for password prompt")
		}
	}
	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(password), nil
}

func openKeyring() (keyring.Keyring, error) {
	return keyring.Open(keyring.Config{
		ServiceName:      keyringServiceName,
		FileDir:          keyringDirectory,
		FilePasswordFunc: promptPassword,
	})
}

// ResolveSecret fills in OAuth.ClientSecret from the OS credential store
// when the configuration names a keyring entry instead of embedding the
// secret.
func (c *Config) ResolveSecret() error {
	if c.OAuth.ClientSecret != "" || c.OAuth.SecretName == "" {
		return nil
	}
	ring, err := openKeyring()
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	item, err := ring.Get(c.OAuth.SecretName)
	if err != nil {
		return fmt.Errorf("failed to read %s from credential store: %w", c.OAuth.SecretName, err)
	}
	c.OAuth.ClientSecret = string(item.Data)
	return nil
}

// StoreSecret saves the client secret under name in the OS credential store.
func StoreSecret(name, secret string) error {
	ring, err := openKeyring()
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	return ring.Set(keyring.Item{
		Key:   name,
		Label: "wallcharge OAuth client secret",
		Data:  []byte(secret),
	})
}
