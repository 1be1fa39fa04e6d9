// Package catalog embeds the built-in template set. These are the callable
// pipelines shipped with the engine; site operators extend the set with a
// catalog directory of their own.
package catalog

import (
	"embed"

	"github.com/conveyorhq/conveyor/internal/registry"
)

//go:embed templates/*.yaml
var templates embed.FS

// Load adds every built-in template to the registry's working set.
func Load(r *registry.Registry) error {
	return r.LoadFS(templates, "templates")
}
