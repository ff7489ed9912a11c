package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ppiankov/grantwatch/internal/config"
	"github.com/ppiankov/grantwatch/internal/source"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var importDryRun bool

var importCmd = &cobra.Command{
	Use:   "import <sites_list.csv>",
	Short: "Import sources from a site list CSV into config.yaml",
	Args:  cobra.ExactArgs(1),
	RunE:  importAction,
}

func init() {
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "show what would be added without modifying config")
	rootCmd.AddCommand(importCmd)
}

func importAction(_ *cobra.Command, args []string) error {
	sources, err := config.LoadSourcesCSV(args[0])
	if err != nil {
		return fmt.Errorf("read site list: %w", err)
	}
	if len(sources) == 0 {
		fmt.Println("No sources found in site list.")
		return nil
	}

	// config.Load is not used here: it rejects a config without sources,
	// which is exactly what import is meant to fill.
	configPath := filepath.Join(configDir, config.DefaultConfigFile)
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config YAML: %w", err)
	}
	seq, err := sourcesNode(&doc)
	if err != nil {
		return err
	}

	existing := existingSourceNames(seq)
	reg := source.DefaultRegistry()

	var added []config.Source
	skipped, invalid := 0, 0
	for _, s := range sources {
		if existing[s.Name] {
			skipped++
			continue
		}
		kind := strings.ToLower(s.Kind)
		if kind == "" {
			kind = source.KindGeneric
		}
		if _, err := reg.New(kind, s.Params); err != nil {
			fmt.Printf("  ! %s: %v\n", s.Name, err)
			invalid++
			continue
		}
		existing[s.Name] = true
		added = append(added, s)
	}

	if len(added) == 0 {
		fmt.Printf("Nothing to add (%d duplicates, %d invalid).\n", skipped, invalid)
		return nil
	}

	if importDryRun {
		fmt.Printf("Would add %d sources (skipping %d duplicates, %d invalid):\n", len(added), skipped, invalid)
		for _, s := range added {
			fmt.Printf("  + %s %s\n", s.Name, s.URL)
		}
		return nil
	}

	for _, s := range added {
		seq.Content = append(seq.Content, sourceNode(s))
	}
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, out, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("Added %d sources, skipped %d duplicates, %d invalid.\n", len(added), skipped, invalid)
	return nil
}

// sourcesNode returns the top-level sources sequence, creating it when the
// key is missing or empty.
func sourcesNode(doc *yaml.Node) (*yaml.Node, error) {
	if doc.Kind == 0 {
		doc.Kind = yaml.DocumentNode
	}
	if doc.Kind != yaml.DocumentNode {
		return nil, errors.New("config.yaml: not a YAML document")
	}
	if len(doc.Content) == 0 {
		doc.Content = append(doc.Content, &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"})
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("config.yaml: top level is not a mapping")
	}

	seq := findMapValue(root, "sources")
	switch {
	case seq == nil:
		seq = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "sources"}, seq)
	case seq.Kind == yaml.ScalarNode && seq.Tag == "!!null":
		// "sources:" with no value
		seq.Kind, seq.Tag, seq.Value = yaml.SequenceNode, "!!seq", ""
	case seq.Kind != yaml.SequenceNode:
		return nil, errors.New("config.yaml: sources is not a list")
	}
	seq.Style &^= yaml.FlowStyle
	return seq, nil
}

func existingSourceNames(seq *yaml.Node) map[string]bool {
	names := make(map[string]bool, len(seq.Content))
	for _, item := range seq.Content {
		if n := findMapValue(item, "name"); n != nil {
			names[strings.TrimSpace(n.Value)] = true
		}
	}
	return names
}

func sourceNode(s config.Source) *yaml.Node {
	m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	addScalar(m, "name", s.Name, 0)
	addScalar(m, "url", s.URL, 0)
	if s.Kind != "" {
		addScalar(m, "kind", s.Kind, 0)
	}
	if len(s.Params) > 0 {
		keys := make([]string, 0, len(s.Params))
		for k := range s.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		params := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, k := range keys {
			// Selectors are quoted; many start with characters YAML reserves.
			addScalar(params, k, s.Params[k], yaml.DoubleQuotedStyle)
		}
		m.Content = append(m.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "params"}, params)
	}
	return m
}

func addScalar(m *yaml.Node, key, value string, style yaml.Style) {
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value, Style: style},
	)
}

func findMapValue(mapping *yaml.Node, key string) *yaml.Node {
	if mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}
