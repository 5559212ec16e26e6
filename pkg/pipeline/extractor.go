package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

// Extractor enriches a chunk's metadata from its text. Extractors
// never modify the text; a failing extractor is logged and skipped
// without failing the chunk.
type Extractor interface {
	Extract(text string, metadata map[string]any) (map[string]any, error)
	Name() string
}

// ExtractorFor resolves an extractor by its configured name
func ExtractorFor(name string) (Extractor, error) {
	switch name {
	case "keywords":
		return &KeywordExtractor{TopN: 8}, nil
	case "path":
		return &PathExtractor{}, nil
	default:
		return nil, fmt.Errorf("unknown extractor: %s", name)
	}
}

// KeywordExtractor picks the most frequent non-stopword terms
type KeywordExtractor struct {
	TopN int
}

func (e *KeywordExtractor) Name() string { return "keywords" }

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true,
	"with": true, "are": true, "was": true, "not": true, "you": true,
	"from": true, "have": true, "has": true, "its": true, "but": true,
	"all": true, "can": true, "will": true, "one": true, "their": true,
}

func (e *KeywordExtractor) Extract(text string, metadata map[string]any) (map[string]any, error) {
	counts := make(map[string]int)
	word := strings.Builder{}
	flush := func() {
		w := strings.ToLower(word.String())
		word.Reset()
		if len(w) < 3 || stopwords[w] {
			return
		}
		counts[w]++
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			word.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	type kw struct {
		word  string
		count int
	}
	ranked := make([]kw, 0, len(counts))
	for w, c := range counts {
		ranked = append(ranked, kw{w, c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})

	topN := e.TopN
	if topN <= 0 {
		topN = 8
	}
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	words := make([]string, len(ranked))
	for i, k := range ranked {
		words[i] = k.word
	}
	if len(words) == 0 {
		return nil, nil
	}
	return map[string]any{"keywords": words}, nil
}

// PathExtractor records the chunk's source file attributes
type PathExtractor struct{}

func (e *PathExtractor) Name() string { return "path" }

func (e *PathExtractor) Extract(text string, metadata map[string]any) (map[string]any, error) {
	source, _ := metadata["source_path"].(string)
	if source == "" {
		return nil, nil
	}
	out := map[string]any{
		"file_name": filepath.Base(source),
		"extension": strings.ToLower(filepath.Ext(source)),
	}
	if info, err := os.Stat(source); err == nil {
		out["modified_at"] = info.ModTime().UTC().Format("2006-01-02T15:04:05Z")
		out["size_bytes"] = info.Size()
	}
	return out, nil
}
