// Package defaults provides embedded default assets: the command catalog
// and the initial virtual filesystem layout, used when no on-disk override
// is configured.
package defaults

import _ "embed"

//go:embed default_catalog.json
var DefaultCatalogJSON []byte

//go:embed default_vfs.json
var DefaultVFSJSON []byte
