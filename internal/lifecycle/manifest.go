package lifecycle

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Manifest describes one release generation. Each deployed release drops a
// manifest into the releases directory; the supervisor picks it up and
// installs a worker for it.
//
//	generation = 3
//	bucket = "frigo-cache-v3"
//	shell_only = false
//	precache = ["/", "/offline.html", "/assets/app.js"]
type Manifest struct {
	Generation int      `toml:"generation"`
	Bucket     string   `toml:"bucket"`
	ShellOnly  bool     `toml:"shell_only"`
	Precache   []string `toml:"precache"`
}

// LoadManifest reads and validates a release manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks the fields a worker cannot run without.
func (m *Manifest) Validate() error {
	if m.Generation <= 0 {
		return fmt.Errorf("generation must be positive, got %d", m.Generation)
	}
	if m.Bucket == "" {
		return fmt.Errorf("bucket name is required")
	}
	if strings.ContainsAny(m.Bucket, "/\\") {
		return fmt.Errorf("bucket name %q must not contain path separators", m.Bucket)
	}
	for _, p := range m.Precache {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("precache path %q must be absolute", p)
		}
	}
	return nil
}
