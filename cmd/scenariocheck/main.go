// Command scenariocheck validates a scenario catalog directory and exits
// non-zero when any definition is broken. With no -dir it checks the
// embedded catalog.
package main

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/yungbote/sparring-backend/internal/domain/scenario"
	"github.com/yungbote/sparring-backend/internal/scenarios"
)

func main() {
	var dir string
	var verbose bool
	flag.StringVar(&dir, "dir", "", "catalog directory (default: embedded catalog)")
	flag.BoolVar(&verbose, "v", false, "list every scenario that passes")
	flag.Parse()

	fsys, root := scenarios.CatalogFS(), "catalog"
	if dir != "" {
		fsys, root = os.DirFS(dir), "."
	}

	defs, failures := checkAll(fsys, root)
	if _, err := scenarios.New(defs...); err != nil && failures == 0 {
		fmt.Printf("catalog: %v\n", err)
		failures++
	}
	if verbose {
		for _, def := range defs {
			fmt.Printf("ok   %-20s %d inputs, %d tasks, %d techniques\n",
				def.ID, len(def.Inputs.Fields), len(def.Pipeline.Tasks), len(def.Analysis.Techniques))
		}
	}
	if failures > 0 {
		fmt.Printf("%d problem file(s)\n", failures)
		os.Exit(1)
	}
}

// checkAll decodes and validates every file on its own so one broken file
// does not hide problems in the others.
func checkAll(fsys fs.FS, root string) ([]*scenario.Definition, int) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		fmt.Printf("read catalog: %v\n", err)
		return nil, 1
	}
	var names []string
	for _, e := range entries {
		ext := strings.ToLower(path.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var (
		defs     []*scenario.Definition
		failures int
	)
	for _, name := range names {
		raw, err := fs.ReadFile(fsys, path.Join(root, name))
		if err != nil {
			fmt.Printf("FAIL %s: %v\n", name, err)
			failures++
			continue
		}
		def, err := scenarios.Decode(raw)
		if err != nil {
			fmt.Printf("FAIL %s: %v\n", name, err)
			failures++
			continue
		}
		if problems := scenarios.Validate(def); len(problems) > 0 {
			fmt.Printf("FAIL %s (%s):\n", name, def.ID)
			for _, p := range problems {
				fmt.Printf("       - %s\n", p)
			}
			failures++
			continue
		}
		defs = append(defs, def)
	}
	return defs, failures
}
