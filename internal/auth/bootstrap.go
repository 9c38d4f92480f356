package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BootstrapResult contains info about a bootstrapped dev key.
type BootstrapResult struct {
	KeysFile  string
	Warehouse string
	Key       string
	Created   bool
}

// BootstrapDevKey creates the keys file with one dev key for the given
// warehouse if it does not exist yet, so a fresh checkout runs without
// manual setup.
func BootstrapDevKey(keysPath, warehouse string) (*BootstrapResult, error) {
	if keysPath == "" {
		keysPath = ResolveKeysPath()
	}
	if warehouse == "" {
		warehouse = "main"
	}

	if _, err := os.Stat(keysPath); err == nil {
		return &BootstrapResult{KeysFile: keysPath, Created: false}, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("check keys file: %w", err)
	}

	key, err := generateDevKey()
	if err != nil {
		return nil, err
	}

	cfg := keysFile{
		Warehouses: map[string]warehouseKeys{
			warehouse: {Keys: []string{key}},
		},
	}
	allowLocalhost := true
	cfg.DefaultPolicy.AllowLocalhostWithoutAuth = &allowLocalhost

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal keys file: %w", err)
	}

	if err := os.WriteFile(keysPath, data, 0600); err != nil {
		return nil, fmt.Errorf("write keys file: %w", err)
	}

	return &BootstrapResult{
		KeysFile:  keysPath,
		Warehouse: warehouse,
		Key:       key,
		Created:   true,
	}, nil
}

func generateDevKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
