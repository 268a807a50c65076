// Package catalog loads the immutable Command Catalog: the mapping from a
// command token (a G-/M-code, a console command, or a host command) to its
// static Descriptor. The catalog is read-only once constructed.
package catalog

import (
	"encoding/json"
	"os"
	"strings"

	defaults "github.com/carvera-sim/carverad/default"
)

// Descriptor is the immutable record describing how one command is
// dispatched and how its reply is shaped.
type Descriptor struct {
	Key             string `json:"-"`
	Response        string `json:"response"`
	SendsOK         bool   `json:"sends_ok"`
	Modal           bool   `json:"modal"`
	TimeMS          int    `json:"time_ms"`
	Instant         bool   `json:"instant"`
	EOTTerminated   bool   `json:"eot_terminated"`
	DebugOutputOnly bool   `json:"debug_output_only"`
}

// rawCatalog mirrors the on-disk/embedded JSON document shape: four
// sections, each a map from literal command token to descriptor fields.
type rawCatalog struct {
	GCodes          map[string]Descriptor `json:"g_codes"`
	MCodes          map[string]Descriptor `json:"m_codes"`
	ConsoleCommands map[string]Descriptor `json:"console_commands"`
	HostCommands    map[string]Descriptor `json:"host_commands"`
}

// Catalog is the immutable, read-only-at-runtime command table.
type Catalog struct {
	// gm holds G-/M-codes, keyed by their uppercased token.
	gm map[string]Descriptor
	// exact holds console and host commands, keyed verbatim.
	exact map[string]Descriptor

	instant map[string]struct{}
}

const defaultTimeMS = 100

// LoadDefault builds a Catalog from the embedded default catalog JSON.
func LoadDefault() (*Catalog, error) {
	return fromJSON(defaults.DefaultCatalogJSON)
}

// Load builds a Catalog from the JSON file at path, falling back to the
// embedded default when path is empty, missing, or malformed.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return LoadDefault()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadDefault()
	}
	cat, err := fromJSON(data)
	if err != nil {
		return LoadDefault()
	}
	return cat, nil
}

func fromJSON(data []byte) (*Catalog, error) {
	var raw rawCatalog
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	cat := &Catalog{
		gm:      make(map[string]Descriptor),
		exact:   make(map[string]Descriptor),
		instant: make(map[string]struct{}),
	}

	addGM := func(set map[string]Descriptor) {
		for key, desc := range set {
			desc.Key = strings.ToUpper(key)
			if desc.TimeMS == 0 {
				desc.TimeMS = defaultTimeMS
			}
			cat.gm[desc.Key] = desc
			if desc.Instant {
				cat.instant[desc.Key] = struct{}{}
			}
		}
	}
	addExact := func(set map[string]Descriptor) {
		for key, desc := range set {
			desc.Key = key
			if desc.TimeMS == 0 {
				desc.TimeMS = defaultTimeMS
			}
			cat.exact[key] = desc
			if desc.Instant {
				cat.instant[key] = struct{}{}
			}
		}
	}

	addGM(raw.GCodes)
	addGM(raw.MCodes)
	addExact(raw.ConsoleCommands)
	addExact(raw.HostCommands)

	return cat, nil
}

// Lookup resolves a candidate token to its Descriptor. G-/M-codes are
// matched case-insensitively; console and host commands are matched
// verbatim. Returns false when no entry matches.
func (c *Catalog) Lookup(token string) (Descriptor, bool) {
	if desc, ok := c.exact[token]; ok {
		return desc, true
	}
	upper := strings.ToUpper(token)
	if (strings.HasPrefix(upper, "G") || strings.HasPrefix(upper, "M")) && len(upper) > 1 {
		if desc, ok := c.gm[upper]; ok {
			return desc, true
		}
	}
	return Descriptor{}, false
}

// InstantPrefixes returns the set of command keys declared instant, used by
// the Framer to decide when a buffer may be dispatched without a line
// terminator.
func (c *Catalog) InstantPrefixes() map[string]struct{} {
	out := make(map[string]struct{}, len(c.instant))
	for k := range c.instant {
		out[k] = struct{}{}
	}
	return out
}
