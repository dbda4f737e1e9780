package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/alexisbeaulieu97/pulse/internal/mod"
)

func newOrderCmd(root *rootFlags) *cobra.Command {
	var modsDir string

	cmd := &cobra.Command{
		Use:   "order",
		Short: "Print the load order of the manifests in a mods directory without running them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, modsDir, "")
			if err != nil {
				return err
			}
			if cfg.Loader.ModsDir == "" {
				return fmt.Errorf("no mods directory: pass --mods or set loader.mods_dir")
			}
			return printOrder(cmd.OutOrStdout(), cfg.Loader.ModsDir)
		},
	}

	cmd.Flags().StringVarP(&modsDir, "mods", "m", "", "Directory of mod manifests (overrides loader.mods_dir)")

	return cmd
}

// printOrder resolves manifests statically: dependency edges, cycles and
// missing required dependencies are reported, but no mod code runs.
func printOrder(w io.Writer, dir string) error {
	manifests, errs := mod.DiscoverManifests(dir)
	problems := multierr.Combine(errs...)

	valid := make([]mod.Metadata, 0, len(manifests))
	byID := make(map[string]mod.Metadata, len(manifests))
	for _, m := range manifests {
		if err := m.Metadata.Validate(); err != nil {
			problems = multierr.Append(problems, fmt.Errorf("%s: %w", m.Path, err))
			continue
		}
		valid = append(valid, m.Metadata)
		byID[m.Metadata.ID] = m.Metadata
	}

	var failed []string
	graph := mod.NewDependencyGraph()
	for _, meta := range valid {
		graph.AddNode(meta.ID)
		for _, dep := range meta.Dependencies {
			if _, ok := byID[dep.ID]; ok {
				graph.AddEdge(meta.ID, dep.ID)
				continue
			}
			if !dep.Optional {
				problems = multierr.Append(problems, mod.ErrMissingDependency{Mod: meta.ID, Dependency: dep.ID})
				failed = append(failed, meta.ID)
			}
		}
	}

	for _, cycle := range graph.Cycles() {
		problems = multierr.Append(problems, mod.ErrCircularDependency{Cycle: cycle})
		failed = append(failed, cycle...)
	}

	excluded := make(map[string]struct{})
	for _, id := range failed {
		excluded[id] = struct{}{}
	}
	for _, id := range graph.TransitiveDependents(failed...) {
		excluded[id] = struct{}{}
	}

	ordered, err := graph.Without(excluded).TopologicalSort()
	if err != nil {
		return multierr.Append(problems, err)
	}
	st := newStyles(w)
	for i, id := range ordered {
		meta := byID[id]
		fmt.Fprintf(w, "%d. %s %s  %s\n", i+1, st.render(st.name, meta.ID), st.render(st.ok, meta.Version), st.render(st.muted, meta.DisplayName()))
	}
	for _, id := range sortedKeys(excluded) {
		fmt.Fprintf(w, "   %s %s\n", st.render(st.bad, "x"), st.render(st.bad, id))
	}
	return problems
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
