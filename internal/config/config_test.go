package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeInput(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "INPUT.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeInput(t, `{"startUrls": ["https://shop.example/"]}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"https://shop.example/"}, cfg.StartURLs)
	assert.Equal(t, 20, cfg.MaxConcurrency)
	assert.Equal(t, 3, cfg.MaxRequestRetries)
	assert.Equal(t, "Shopify", cfg.PlatformSignature)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "local", cfg.State.Provider)
	assert.Equal(t, "jsonl", cfg.Sink.Provider)
	assert.Zero(t, cfg.RequestBudget())
	assert.Nil(t, cfg.Proxies())
}

func TestLoadReadsHookSourcesAndCustomData(t *testing.T) {
	path := writeInput(t, `{
		"startUrls": ["https://shop.example/"],
		"maxRequestsPerCrawl": 10,
		"fetchHtml": true,
		"extendOutputFunction": "item",
		"extendScraperFunction": "@setup",
		"customData": {"market": "us", "cartCurrency": "EUR", "pricing": {"taxIncluded": true}},
		"proxyConfig": {"useProxy": true, "proxyUrls": ["http://proxy.local:8000"]}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "item", cfg.ExtendOutputFunction)
	assert.Equal(t, "@setup", cfg.ExtendScraperFunction)
	assert.Equal(t, "us", cfg.CustomData["market"])
	assert.Equal(t, "EUR", cfg.CustomData["cartCurrency"])
	assert.Equal(t, map[string]any{"taxIncluded": true}, cfg.CustomData["pricing"])
	assert.NotContains(t, cfg.CustomData, "cartcurrency")
	assert.Equal(t, 20, cfg.RequestBudget())
	assert.Equal(t, []string{"http://proxy.local:8000"}, cfg.Proxies())
}

func TestLoadKeepsCustomDataKeyCaseFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.yaml")
	body := "startUrls:\n  - https://shop.example/\ncustomData:\n  apiKey: k\n  cartCurrency: EUR\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"apiKey": "k", "cartCurrency": "EUR"}, cfg.CustomData)
}

func TestLoadFailsWithoutStartURLs(t *testing.T) {
	path := writeInput(t, `{"startUrls": ["  "]}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "startUrls", cfgErr.Field)
}

func TestValidateProxyPolicy(t *testing.T) {
	t.Parallel()

	base := Config{
		StartURLs:         []string{"https://shop.example"},
		MaxConcurrency:    1,
		RequestTimeout:    time.Second,
		PlatformSignature: "Shopify",
	}

	cases := []struct {
		name  string
		proxy ProxyConfig
		ok    bool
	}{
		{"disabled", ProxyConfig{}, true},
		{"enabled without urls", ProxyConfig{UseProxy: true}, false},
		{"bad scheme", ProxyConfig{UseProxy: true, ProxyURLs: []string{"ftp://proxy:21"}}, false},
		{"missing host", ProxyConfig{UseProxy: true, ProxyURLs: []string{"http://"}}, false},
		{"socks", ProxyConfig{UseProxy: true, ProxyURLs: []string{"socks5://127.0.0.1:1080"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			cfg.ProxyConfig = tc.proxy
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestFromViperEnvOverride(t *testing.T) {
	t.Setenv("STOREFRONT_MAXCONCURRENCY", "5")
	v := viper.New()
	v.Set("startUrls", []string{"https://shop.example"})

	cfg, err := FromViper(v, false)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxConcurrency)
}
