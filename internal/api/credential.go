package api

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvCredential reads the bearer token from a named environment variable.
type EnvCredential string

// Credential returns the variable's value or ErrNoCredential when unset.
func (e EnvCredential) Credential(ctx context.Context) (string, error) {
	token := strings.TrimSpace(os.Getenv(string(e)))
	if token == "" {
		return "", ErrNoCredential
	}
	return token, nil
}

// FileCredential reads the bearer token from a file, trimming whitespace.
type FileCredential string

// Credential returns the file's contents or ErrNoCredential when the file
// is missing or empty.
func (f FileCredential) Credential(ctx context.Context) (string, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoCredential
		}
		return "", fmt.Errorf("read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoCredential
	}
	return token, nil
}

// CredentialChain tries each source in order and returns the first token.
type CredentialChain []CredentialSource

// Credential returns the first available token, or ErrNoCredential when
// every source comes up empty.
func (c CredentialChain) Credential(ctx context.Context) (string, error) {
	for _, source := range c {
		token, err := source.Credential(ctx)
		if err == nil {
			return token, nil
		}
	}
	return "", ErrNoCredential
}
