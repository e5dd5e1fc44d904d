package scenarios

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/sparring-backend/internal/domain/scenario"
	pkgerrors "github.com/yungbote/sparring-backend/internal/pkg/errors"
	"github.com/yungbote/sparring-backend/internal/platform/logger"
)

// CatalogDirEnv points at a directory of scenario YAML files that replaces
// the embedded catalog.
const CatalogDirEnv = "SCENARIO_CATALOG_DIR"

//go:embed catalog/*.yaml
var catalogFS embed.FS

// Registry is the immutable scenario catalog. It is safe for concurrent use.
type Registry struct {
	order []string
	byID  map[string]*scenario.Definition
}

// CatalogFS is the embedded catalog; definitions live under "catalog".
func CatalogFS() fs.FS { return catalogFS }

// Load reads the catalog named by SCENARIO_CATALOG_DIR, or the embedded one.
// Any invalid definition fails the whole load.
func Load(log *logger.Logger) (*Registry, error) {
	if dir := strings.TrimSpace(os.Getenv(CatalogDirEnv)); dir != "" {
		if log != nil {
			log.Info("Loading scenario catalog from directory", "dir", dir)
		}
		return LoadFS(os.DirFS(dir), ".")
	}
	return LoadFS(catalogFS, "catalog")
}

// LoadFS decodes every .yaml/.yml file in dir, in file name order.
func LoadFS(fsys fs.FS, dir string) (*Registry, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario catalog: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(path.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, &pkgerrors.ConfigurationError{Problems: []string{"scenario catalog " + dir + " is empty"}}
	}
	defs := make([]*scenario.Definition, 0, len(names))
	for _, name := range names {
		raw, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		def, err := Decode(raw)
		if err != nil {
			return nil, &pkgerrors.ConfigurationError{Scenario: name, Problems: []string{err.Error()}}
		}
		defs = append(defs, def)
	}
	return New(defs...)
}

// Decode parses one scenario document, rejecting unknown keys.
func Decode(raw []byte) (*scenario.Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var def scenario.Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("decode scenario yaml: %w", err)
	}
	return &def, nil
}

// New validates and indexes definitions. Order is preserved for List.
func New(defs ...*scenario.Definition) (*Registry, error) {
	r := &Registry{byID: make(map[string]*scenario.Definition, len(defs))}
	for _, def := range defs {
		if def == nil {
			continue
		}
		if problems := Validate(def); len(problems) > 0 {
			return nil, &pkgerrors.ConfigurationError{Scenario: def.ID, Problems: problems}
		}
		if _, dup := r.byID[def.ID]; dup {
			return nil, &pkgerrors.ConfigurationError{Scenario: def.ID, Problems: []string{"duplicate scenario id"}}
		}
		r.byID[def.ID] = def.Clone()
		r.order = append(r.order, def.ID)
	}
	if len(r.order) == 0 {
		return nil, &pkgerrors.ConfigurationError{Problems: []string{"no scenarios defined"}}
	}
	return r, nil
}

// Get returns a copy of the definition; callers may not affect the catalog.
func (r *Registry) Get(id string) (*scenario.Definition, error) {
	def, ok := r.byID[strings.TrimSpace(id)]
	if !ok {
		return nil, fmt.Errorf("scenario %q: %w", id, pkgerrors.ErrNotFound)
	}
	return def.Clone(), nil
}

func (r *Registry) List() []*scenario.Definition {
	out := make([]*scenario.Definition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id].Clone())
	}
	return out
}

func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}
