package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Filename is the manifest file name inside a project root
const Filename = "manifest.yaml"

// Manifest is the immutable project definition loaded at the start of a run
type Manifest struct {
	Namespace  string              `yaml:"namespace"`
	Name       string              `yaml:"name"`
	Models     []Model             `yaml:"models,omitempty"`
	Prompts    []Prompt            `yaml:"prompts,omitempty"`
	Databases  []Database          `yaml:"databases"`
	Strategies []Strategy          `yaml:"strategies"`
	Datasets   []Dataset           `yaml:"datasets,omitempty"`
}

// Model names a runtime model the project chats with
type Model struct {
	Name         string `yaml:"name"`
	Provider     string `yaml:"provider,omitempty"`
	ModelID      string `yaml:"model_id"`
	Quantization string `yaml:"quantization,omitempty"`
	Default      bool   `yaml:"default,omitempty"`
}

// Prompt is a named prompt template
type Prompt struct {
	Name     string `yaml:"name"`
	Template string `yaml:"template"`
}

// Database binds a vector store to its embedding and retrieval config
type Database struct {
	Name              string `yaml:"name"`
	Type              string `yaml:"type"` // vector store type, e.g. "bbolt"
	EmbeddingStrategy string `yaml:"embedding_strategy"`
	EmbeddingModel    string `yaml:"embedding_model,omitempty"`
	Dimension         int    `yaml:"dimension,omitempty"`
	RetrievalStrategy string `yaml:"retrieval_strategy"`
	TopK              int    `yaml:"top_k,omitempty"`
}

// Strategy bundles directory filtering, parsing, and extraction config
type Strategy struct {
	Name       string          `yaml:"name"`
	Filter     DirectoryFilter `yaml:"filter"`
	Parsers    []ParserConfig  `yaml:"parsers"`
	Extractors []string        `yaml:"extractors,omitempty"`
}

// DirectoryFilter controls file discovery for directory ingests
type DirectoryFilter struct {
	Recursive      bool     `yaml:"recursive"`
	Include        []string `yaml:"include,omitempty"`
	Exclude        []string `yaml:"exclude,omitempty"`
	MaxFiles       int      `yaml:"max_files,omitempty"`
	FollowSymlinks bool     `yaml:"follow_symlinks,omitempty"`
}

// ParserConfig routes file extensions to a parser with chunking params.
// Declaration order matters: the first parser matching an extension wins.
type ParserConfig struct {
	Type           string   `yaml:"type"` // "text", "markdown", "csv"
	FileExtensions []string `yaml:"file_extensions"`
	ChunkSize      int      `yaml:"chunk_size,omitempty"`
	ChunkOverlap   int      `yaml:"chunk_overlap,omitempty"`
}

// Dataset names a source directory processed with a strategy into a database
type Dataset struct {
	Name     string `yaml:"name"`
	Source   string `yaml:"source"`
	Database string `yaml:"database"`
	Strategy string `yaml:"strategy"`
}

// Load reads and validates the manifest in the given project directory
func Load(projectDir string) (*Manifest, error) {
	path := filepath.Join(projectDir, Filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates manifest bytes
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks cross-references between datasets, databases, and strategies
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("manifest name is required")
	}
	if m.Namespace == "" {
		return fmt.Errorf("manifest namespace is required")
	}

	databases := make(map[string]bool)
	for _, db := range m.Databases {
		if db.Name == "" {
			return fmt.Errorf("database name is required")
		}
		if databases[db.Name] {
			return fmt.Errorf("duplicate database: %s", db.Name)
		}
		databases[db.Name] = true
	}

	strategies := make(map[string]bool)
	for _, s := range m.Strategies {
		if s.Name == "" {
			return fmt.Errorf("strategy name is required")
		}
		if strategies[s.Name] {
			return fmt.Errorf("duplicate strategy: %s", s.Name)
		}
		if len(s.Parsers) == 0 {
			return fmt.Errorf("strategy %s has no parsers", s.Name)
		}
		for _, p := range s.Parsers {
			if len(p.FileExtensions) == 0 {
				return fmt.Errorf("strategy %s: parser %s declares no file extensions", s.Name, p.Type)
			}
		}
		strategies[s.Name] = true
	}

	for _, ds := range m.Datasets {
		if !databases[ds.Database] {
			return fmt.Errorf("dataset %s references unknown database: %s", ds.Name, ds.Database)
		}
		if !strategies[ds.Strategy] {
			return fmt.Errorf("dataset %s references unknown strategy: %s", ds.Name, ds.Strategy)
		}
	}

	return nil
}

// Database returns the named database config
func (m *Manifest) Database(name string) (*Database, error) {
	for i := range m.Databases {
		if m.Databases[i].Name == name {
			return &m.Databases[i], nil
		}
	}
	return nil, fmt.Errorf("database not found: %s", name)
}

// Strategy returns the named processing strategy
func (m *Manifest) Strategy(name string) (*Strategy, error) {
	for i := range m.Strategies {
		if m.Strategies[i].Name == name {
			return &m.Strategies[i], nil
		}
	}
	return nil, fmt.Errorf("strategy not found: %s", name)
}

// StrategyForDatabase resolves the strategy a dataset binds to the database,
// falling back to the first declared strategy when no dataset references it.
func (m *Manifest) StrategyForDatabase(database string) (*Strategy, error) {
	for _, ds := range m.Datasets {
		if ds.Database == database {
			return m.Strategy(ds.Strategy)
		}
	}
	if len(m.Strategies) > 0 {
		return &m.Strategies[0], nil
	}
	return nil, fmt.Errorf("no strategy configured for database: %s", database)
}

// DefaultModel returns the model marked default, or the first model
func (m *Manifest) DefaultModel() (*Model, error) {
	for i := range m.Models {
		if m.Models[i].Default {
			return &m.Models[i], nil
		}
	}
	if len(m.Models) > 0 {
		return &m.Models[0], nil
	}
	return nil, fmt.Errorf("no models configured")
}

// Starter returns a starter manifest for llamafarm init
func Starter(namespace, name string) *Manifest {
	return &Manifest{
		Namespace: namespace,
		Name:      name,
		Models: []Model{
			{Name: "default", ModelID: "Qwen/Qwen2.5-3B-Instruct", Default: true},
		},
		Databases: []Database{
			{
				Name:              "main",
				Type:              "bbolt",
				EmbeddingStrategy: "default",
				EmbeddingModel:    "nomic-ai/nomic-embed-text-v1.5",
				RetrievalStrategy: "cosine",
				TopK:              5,
			},
		},
		Strategies: []Strategy{
			{
				Name:   "default",
				Filter: DirectoryFilter{Recursive: true, Exclude: []string{".*"}},
				Parsers: []ParserConfig{
					{Type: "markdown", FileExtensions: []string{".md"}, ChunkSize: 1200, ChunkOverlap: 120},
					{Type: "csv", FileExtensions: []string{".csv"}},
					{Type: "text", FileExtensions: []string{".txt", ".log", ".rst"}, ChunkSize: 1000, ChunkOverlap: 100},
				},
				Extractors: []string{"path", "keywords"},
			},
		},
		Datasets: []Dataset{
			{Name: "docs", Source: "data", Database: "main", Strategy: "default"},
		},
	}
}

// Write serializes the manifest into the project directory.
// Fails if a manifest already exists.
func (m *Manifest) Write(projectDir string) error {
	path := filepath.Join(projectDir, Filename)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("manifest already exists: %s", path)
	}
	if err := os.MkdirAll(projectDir, 0755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}
	return m.Save(projectDir)
}

// Save validates and overwrites the project's manifest. Used for edits
// to an existing project (dataset create/delete).
func (m *Manifest) Save(projectDir string) error {
	if err := m.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(projectDir, Filename), data, 0644)
}
