package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultKeysFile = "warewatch.keys.yaml"

type keysFile struct {
	DefaultPolicy struct {
		AllowLocalhostWithoutAuth *bool `yaml:"allow_localhost_without_auth"`
	} `yaml:"default_policy"`
	Warehouses map[string]warehouseKeys `yaml:"warehouses"`
}

type warehouseKeys struct {
	Keys []string `yaml:"keys"`
}

// Keyring maps bearer keys to the warehouse they grant access to.
type Keyring struct {
	AllowLocalhostWithoutAuth bool
	keyToWarehouse            map[string]string
}

func ResolveKeysPath() string {
	if v := strings.TrimSpace(os.Getenv("WAREWATCH_KEYS_FILE")); v != "" {
		return v
	}
	return filepath.Join(".", defaultKeysFile)
}

func LoadKeyringFromEnv() (*Keyring, error) {
	return LoadKeyring(ResolveKeysPath())
}

func LoadKeyring(path string) (*Keyring, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return defaultKeyring(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if _, err := BootstrapDevKey(path, "main"); err != nil {
				return nil, fmt.Errorf("bootstrap dev key: %w", err)
			}
			data, err = os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read keys file: %w", err)
			}
		} else {
			return nil, fmt.Errorf("read keys file: %w", err)
		}
	}
	var cfg keysFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse keys file: %w", err)
	}
	ring := &Keyring{
		AllowLocalhostWithoutAuth: true,
		keyToWarehouse:            make(map[string]string),
	}
	if cfg.DefaultPolicy.AllowLocalhostWithoutAuth != nil {
		ring.AllowLocalhostWithoutAuth = *cfg.DefaultPolicy.AllowLocalhostWithoutAuth
	}
	for warehouse, keys := range cfg.Warehouses {
		for _, key := range keys.Keys {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			if existing, ok := ring.keyToWarehouse[key]; ok && existing != warehouse {
				return nil, fmt.Errorf("key reused across warehouses: %q", key)
			}
			ring.keyToWarehouse[key] = warehouse
		}
	}
	return ring, nil
}

func defaultKeyring() *Keyring {
	return &Keyring{AllowLocalhostWithoutAuth: true, keyToWarehouse: make(map[string]string)}
}

func NewKeyring(allowLocalhost bool, keyToWarehouse map[string]string) *Keyring {
	clone := make(map[string]string, len(keyToWarehouse))
	for k, v := range keyToWarehouse {
		clone[k] = v
	}
	return &Keyring{AllowLocalhostWithoutAuth: allowLocalhost, keyToWarehouse: clone}
}

func (k *Keyring) WarehouseForKey(key string) (string, bool) {
	if k == nil {
		return "", false
	}
	warehouse, ok := k.keyToWarehouse[key]
	return warehouse, ok
}
