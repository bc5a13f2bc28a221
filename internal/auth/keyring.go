package auth

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

func saveToKeyring(service, profile, data string) error {
	if err := keyring.Set(service, profile, data); err != nil {
		return fmt.Errorf("failed to store credentials in keyring: %w", err)
	}
	return nil
}

func loadFromKeyring(service, profile string) (string, error) {
	data, err := keyring.Get(service, profile)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("%w for profile '%s'", ErrCredentialsNotFound, profile)
		}
		return "", fmt.Errorf("failed to read credentials from keyring: %w", err)
	}
	return data, nil
}

func deleteFromKeyring(service, profile string) error {
	if err := keyring.Delete(service, profile); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete credentials from keyring: %w", err)
	}
	return nil
}

// checkKeyringAvailable tests if system keyring is available
func checkKeyringAvailable() bool {
	testKey := serviceName + "-availability"
	if err := keyring.Set(serviceName, testKey, "test"); err != nil {
		return false
	}
	_ = keyring.Delete(serviceName, testKey)
	return true
}
