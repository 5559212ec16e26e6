package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validManifest() *Manifest {
	return &Manifest{
		Namespace: "default",
		Name:      "demo",
		Databases: []Database{
			{Name: "main", Type: "bbolt", EmbeddingStrategy: "default", RetrievalStrategy: "cosine"},
		},
		Strategies: []Strategy{
			{
				Name:    "default",
				Parsers: []ParserConfig{{Type: "text", FileExtensions: []string{".txt"}}},
			},
		},
		Datasets: []Dataset{
			{Name: "docs", Source: "data", Database: "main", Strategy: "default"},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *Manifest)
		wantErr string
	}{
		{"valid", func(m *Manifest) {}, ""},
		{"missing name", func(m *Manifest) { m.Name = "" }, "name is required"},
		{"missing namespace", func(m *Manifest) { m.Namespace = "" }, "namespace is required"},
		{"duplicate database", func(m *Manifest) {
			m.Databases = append(m.Databases, m.Databases[0])
		}, "duplicate database"},
		{"duplicate strategy", func(m *Manifest) {
			m.Strategies = append(m.Strategies, m.Strategies[0])
		}, "duplicate strategy"},
		{"strategy without parsers", func(m *Manifest) {
			m.Strategies[0].Parsers = nil
		}, "has no parsers"},
		{"parser without extensions", func(m *Manifest) {
			m.Strategies[0].Parsers[0].FileExtensions = nil
		}, "declares no file extensions"},
		{"dataset unknown database", func(m *Manifest) {
			m.Datasets[0].Database = "missing"
		}, "unknown database"},
		{"dataset unknown strategy", func(m *Manifest) {
			m.Datasets[0].Strategy = "missing"
		}, "unknown strategy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validManifest()
			tt.mutate(m)
			err := m.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected valid, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestParseRejectsBadYAML(t *testing.T) {
	if _, err := Parse([]byte("{not yaml")); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := Starter("default", "demo")
	if err := m.Write(dir); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Name != "demo" || loaded.Namespace != "default" {
		t.Errorf("round trip lost identity: %s/%s", loaded.Namespace, loaded.Name)
	}
	if len(loaded.Strategies) == 0 || len(loaded.Databases) == 0 {
		t.Error("starter manifest missing strategies or databases")
	}
}

func TestWriteRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, Filename), []byte("namespace: x\nname: y\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := Starter("default", "demo").Write(dir); err == nil {
		t.Error("expected error writing over an existing manifest")
	}
}

func TestSaveOverwritesExistingManifest(t *testing.T) {
	dir := t.TempDir()
	m := Starter("default", "demo")
	if err := m.Write(dir); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	m.Datasets = append(m.Datasets, Dataset{
		Name: "extra", Source: "data/extra", Database: "main", Strategy: "default",
	})
	if err := m.Save(dir); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded.Datasets) != 2 {
		t.Errorf("expected 2 datasets after save, got %d", len(loaded.Datasets))
	}
}

func TestSaveRejectsInvalidEdit(t *testing.T) {
	dir := t.TempDir()
	m := Starter("default", "demo")
	if err := m.Write(dir); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	m.Datasets = append(m.Datasets, Dataset{
		Name: "bad", Source: "data/bad", Database: "no-such-db", Strategy: "default",
	})
	if err := m.Save(dir); err == nil {
		t.Error("expected validation error for an unknown database reference")
	}

	// The on-disk manifest is untouched.
	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded.Datasets) != 1 {
		t.Errorf("invalid edit leaked to disk: %d datasets", len(loaded.Datasets))
	}
}

func TestStrategyForDatabase(t *testing.T) {
	m := validManifest()
	m.Strategies = append(m.Strategies, Strategy{
		Name:    "other",
		Parsers: []ParserConfig{{Type: "text", FileExtensions: []string{".txt"}}},
	})
	m.Datasets[0].Strategy = "other"

	s, err := m.StrategyForDatabase("main")
	if err != nil {
		t.Fatalf("StrategyForDatabase failed: %v", err)
	}
	if s.Name != "other" {
		t.Errorf("expected dataset-bound strategy, got %s", s.Name)
	}

	// No dataset references it: fall back to the first strategy.
	s, err = m.StrategyForDatabase("unbound")
	if err != nil {
		t.Fatalf("fallback failed: %v", err)
	}
	if s.Name != "default" {
		t.Errorf("expected first strategy fallback, got %s", s.Name)
	}
}

func TestDefaultModel(t *testing.T) {
	m := validManifest()
	if _, err := m.DefaultModel(); err == nil {
		t.Error("expected error with no models")
	}

	m.Models = []Model{
		{Name: "a", ModelID: "org/a"},
		{Name: "b", ModelID: "org/b", Default: true},
	}
	model, err := m.DefaultModel()
	if err != nil {
		t.Fatalf("DefaultModel failed: %v", err)
	}
	if model.Name != "b" {
		t.Errorf("expected the flagged default, got %s", model.Name)
	}
}
