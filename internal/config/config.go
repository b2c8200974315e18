// Package config loads and validates the reconciler's file-based
// configuration. A Config is an immutable value: callers receive a copy and
// hot reload swaps the whole value rather than mutating it in place.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentworkforce/ledgerbridge/internal/engine"
)

// Config carries the sync topology: which Ledger database to read, where
// each module's issues live, and the markers used to recognize synced
// artifacts.
type Config struct {
	LedgerDatabaseID string            `json:"ledger_database_id"`
	Repositories     map[string]string `json:"repositories"`
	SyncLabel        string            `json:"sync_label"`
	DefaultBase      string            `json:"default_base"`
	FooterMarker     string            `json:"footer_marker"`
}

const (
	defaultSyncLabel  = "ledger-sync"
	defaultBaseBranch = "main"
)

const schemaText = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["ledger_database_id", "repositories"],
  "properties": {
    "ledger_database_id": {"type": "string", "minLength": 1},
    "repositories": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {"type": "string", "pattern": "^[^/]+/[^/]+$"}
    },
    "sync_label": {"type": "string", "minLength": 1},
    "default_base": {"type": "string", "minLength": 1},
    "footer_marker": {"type": "string"}
  },
  "additionalProperties": false
}`

var configSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaText))
	if err != nil {
		panic(fmt.Sprintf("config: schema is not valid JSON: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.json", doc); err != nil {
		panic(fmt.Sprintf("config: register schema: %v", err))
	}
	schema, err := compiler.Compile("config.json")
	if err != nil {
		panic(fmt.Sprintf("config: compile schema: %v", err))
	}
	return schema
}

// Load reads, validates, and defaults the configuration file at path.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse validates raw JSON against the embedded schema and decodes it.
func Parse(raw []byte) (Config, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := configSchema.Validate(doc); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.SyncLabel == "" {
		c.SyncLabel = defaultSyncLabel
	}
	if c.DefaultBase == "" {
		c.DefaultBase = defaultBaseBranch
	}
}

// Routing projects the config into the engine's routing value.
func (c Config) Routing() engine.Routing {
	repos := make(map[string]string, len(c.Repositories))
	for module, repo := range c.Repositories {
		repos[module] = repo
	}
	return engine.Routing{
		Repositories: repos,
		DefaultBase:  c.DefaultBase,
		FooterMarker: c.FooterMarker,
	}
}
