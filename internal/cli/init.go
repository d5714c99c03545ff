package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/journey/internal/objects"
	"github.com/mesh-intelligence/journey/internal/paths"
	"github.com/mesh-intelligence/journey/pkg/sqlite"
)

func newInitCmd(s *state) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration and storage",
		Long: "Create the configuration directory with a default config.yaml, generate a\n" +
			"token signing secret if none is set, and create the databases.",
		Args: cobra.NoArgs,
		RunE: s.runInit,
	}
}

func (s *state) runInit(cmd *cobra.Command, _ []string) error {
	configDir, err := s.configDir()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(configDir)
	if err != nil {
		return err
	}

	updates := map[string]string{}
	if cfg.Auth.JWTSecret == "" {
		secret, err := newSecret()
		if err != nil {
			return err
		}
		updates["auth.jwt_secret"] = secret
	}
	dataDir, err := paths.ResolveDataDir(s.flags.dataDir, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("resolve data dir: %w", err)
	}
	if s.flags.dataDir != "" {
		updates["data_dir"] = dataDir
	}
	if len(updates) > 0 {
		if err := setConfigValues(filepath.Join(configDir, configFileExt), updates); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
	}

	store, err := sqlite.Open(dataDir)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	if err := store.Close(); err != nil {
		return fmt.Errorf("finalize storage: %w", err)
	}
	objs, err := objects.Open(dataDir, nil)
	if err != nil {
		return fmt.Errorf("initialize object store: %w", err)
	}
	if err := objs.Close(); err != nil {
		return fmt.Errorf("finalize object store: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Journey initialized\nconfig: %s\ndata:   %s\n", configDir, dataDir)
	return nil
}

func newSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// setConfigValues sets dotted keys in a YAML file, keeping its comments and
// the order of existing keys.
func setConfigValues(path string, values map[string]string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	if doc.Kind != yaml.DocumentNode {
		doc = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode}}}
	}
	root := doc.Content[0]
	for key, value := range values {
		leaf := lookupOrAdd(root, strings.Split(key, "."))
		leaf.Kind = yaml.ScalarNode
		leaf.Tag = "!!str"
		leaf.Value = value
		leaf.Style = yaml.DoubleQuotedStyle
		leaf.Content = nil
	}
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}

// lookupOrAdd walks mapping nodes along keys, creating what is missing, and
// returns the value node of the last key.
func lookupOrAdd(node *yaml.Node, keys []string) *yaml.Node {
	for _, key := range keys {
		if node.Kind != yaml.MappingNode {
			*node = yaml.Node{Kind: yaml.MappingNode}
		}
		var next *yaml.Node
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == key {
				next = node.Content[i+1]
				break
			}
		}
		if next == nil {
			next = &yaml.Node{Kind: yaml.MappingNode}
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, next)
		}
		node = next
	}
	return node
}
