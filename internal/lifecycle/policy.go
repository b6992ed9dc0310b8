package lifecycle

import (
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy is the route policy shared by all generations: which path prefix is
// the API, where the offline fallback page lives, and which extensions count
// as static assets when the client sends no fetch metadata.
type Policy struct {
	APIPrefix       string   `yaml:"api_prefix"`
	OfflinePath     string   `yaml:"offline_path"`
	ShellOnly       bool     `yaml:"shell_only"`
	AssetExtensions []string `yaml:"asset_extensions"`
}

// DefaultPolicy returns the policy used when no file is given.
func DefaultPolicy() Policy {
	return Policy{
		APIPrefix:   "/api/",
		OfflinePath: "/offline.html",
		AssetExtensions: []string{
			".js", ".css", ".png", ".jpg", ".jpeg", ".svg", ".webp",
			".ico", ".woff", ".woff2", ".json", ".webmanifest",
		},
	}
}

// LoadPolicy reads a route policy file, filling unset fields from the
// defaults.
func LoadPolicy(file string) (Policy, error) {
	p := DefaultPolicy()
	data, err := os.ReadFile(file)
	if err != nil {
		return p, fmt.Errorf("failed to read policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to parse policy %s: %w", file, err)
	}
	if p.APIPrefix == "" {
		p.APIPrefix = DefaultPolicy().APIPrefix
	}
	if p.OfflinePath == "" {
		p.OfflinePath = DefaultPolicy().OfflinePath
	}
	if len(p.AssetExtensions) == 0 {
		p.AssetExtensions = DefaultPolicy().AssetExtensions
	}
	return p, nil
}

// IsAPI reports whether the request path falls under the API prefix.
func (p Policy) IsAPI(reqPath string) bool {
	return strings.HasPrefix(reqPath, p.APIPrefix)
}

// IsAsset reports whether the request path looks like a static asset by
// extension. Callers prefer fetch metadata headers and use this as the
// fallback.
func (p Policy) IsAsset(reqPath string) bool {
	ext := strings.ToLower(path.Ext(reqPath))
	if ext == "" {
		return false
	}
	for _, e := range p.AssetExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
