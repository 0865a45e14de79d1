// Package vault stores venue API credentials in HashiCorp Vault.
// With vault disabled the client falls back to environment variables so
// paper-mode and development setups need no vault at all.
package vault

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/hashicorp/vault/api"

	"fundpool-engine/config"
)

// Credentials is the venue API credential pair stored per credential id
type Credentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	IsTestnet bool   `json:"is_testnet"`
}

// Client wraps the HashiCorp Vault client with an in-memory cache
type Client struct {
	client *api.Client
	config config.VaultConfig
	mu     sync.RWMutex
	cache  map[string]*Credentials
}

// NewClient creates a new Vault client. When vault is disabled the
// returned client serves only the env fallback and the local cache.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	c := &Client{
		config: cfg,
		cache:  make(map[string]*Credentials),
	}
	if !cfg.Enabled {
		return c, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	c.client = client
	return c, nil
}

// GetCredentials retrieves the credential pair for a credential id.
func (c *Client) GetCredentials(ctx context.Context, credentialID string) (*Credentials, error) {
	c.mu.RLock()
	if cached, ok := c.cache[credentialID]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	if !c.config.Enabled {
		return c.envCredentials()
	}

	path := c.secretPath(credentialID)
	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("credentials not found for %q", credentialID)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	creds := &Credentials{
		APIKey:    getString(data, "api_key"),
		SecretKey: getString(data, "secret_key"),
		IsTestnet: getBool(data, "is_testnet"),
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		return nil, fmt.Errorf("incomplete credentials for %q", credentialID)
	}

	c.mu.Lock()
	c.cache[credentialID] = creds
	c.mu.Unlock()

	return creds, nil
}

// StoreCredentials writes a credential pair under a credential id.
func (c *Client) StoreCredentials(ctx context.Context, credentialID string, creds Credentials) error {
	if !c.config.Enabled {
		c.mu.Lock()
		c.cache[credentialID] = &creds
		c.mu.Unlock()
		return nil
	}

	path := c.secretPath(credentialID)
	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"api_key":    creds.APIKey,
			"secret_key": creds.SecretKey,
			"is_testnet": creds.IsTestnet,
		},
	}

	if _, err := c.client.Logical().WriteWithContext(ctx, path, secretData); err != nil {
		return fmt.Errorf("failed to store credentials in vault: %w", err)
	}

	c.mu.Lock()
	c.cache[credentialID] = &creds
	c.mu.Unlock()

	return nil
}

// DeleteCredentials removes a credential pair.
func (c *Client) DeleteCredentials(ctx context.Context, credentialID string) error {
	c.mu.Lock()
	delete(c.cache, credentialID)
	c.mu.Unlock()

	if !c.config.Enabled {
		return nil
	}

	path := fmt.Sprintf("%s/metadata/venues/%s", c.config.MountPath, credentialID)
	if _, err := c.client.Logical().DeleteWithContext(ctx, path); err != nil {
		return fmt.Errorf("failed to delete credentials from vault: %w", err)
	}
	return nil
}

// ClearCache drops all cached credentials, forcing a re-read on next use.
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]*Credentials)
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

// envCredentials is the vault-disabled fallback for development
func (c *Client) envCredentials() (*Credentials, error) {
	apiKey := os.Getenv("VENUE_API_KEY")
	secretKey := os.Getenv("VENUE_SECRET_KEY")
	if apiKey == "" || secretKey == "" {
		return nil, fmt.Errorf("credentials not found and vault is disabled")
	}
	return &Credentials{
		APIKey:    apiKey,
		SecretKey: secretKey,
		IsTestnet: os.Getenv("VENUE_TESTNET") == "true",
	}, nil
}

func (c *Client) secretPath(credentialID string) string {
	return fmt.Sprintf("%s/data/venues/%s", c.config.MountPath, credentialID)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func getBool(data map[string]interface{}, key string) bool {
	if val, ok := data[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
		if s, ok := val.(string); ok {
			return s == "true"
		}
	}
	return false
}
