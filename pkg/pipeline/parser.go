package pipeline

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/llamafarm/llamafarm/pkg/manifest"
)

// ParsedChunk is one unit of text a parser emitted, with any
// parser-level metadata attached. Values may still be rich; the
// storage stage flattens them to scalars.
type ParsedChunk struct {
	Text     string
	Metadata map[string]any
}

// Parser turns raw file bytes into an ordered chunk sequence. Parsers
// are deterministic: the same bytes always yield the same chunks.
type Parser interface {
	Parse(data []byte, cfg manifest.ParserConfig) ([]ParsedChunk, error)
	Type() string
}

// ParserFor resolves a parser type name from a strategy's config
func ParserFor(parserType string) (Parser, error) {
	switch parserType {
	case "text":
		return &TextParser{}, nil
	case "markdown":
		return &MarkdownParser{}, nil
	case "csv":
		return &CSVParser{}, nil
	default:
		return nil, fmt.Errorf("unknown parser type: %s", parserType)
	}
}

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 100
)

// TextParser splits plain text into fixed-size chunks with overlap
type TextParser struct{}

func (p *TextParser) Type() string { return "text" }

func (p *TextParser) Parse(data []byte, cfg manifest.ParserConfig) ([]ParsedChunk, error) {
	size := cfg.ChunkSize
	if size <= 0 {
		size = defaultChunkSize
	}
	overlap := cfg.ChunkOverlap
	if overlap < 0 || overlap >= size {
		overlap = defaultChunkOverlap
		if overlap >= size {
			overlap = size / 10
		}
	}

	text := string(data)
	var chunks []ParsedChunk
	runes := []rune(text)
	step := size - overlap
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, ParsedChunk{Text: string(runes[start:end])})
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}

// MarkdownParser splits on top-level headings, then size-splits any
// oversized section. Each chunk carries its section heading.
type MarkdownParser struct{}

func (p *MarkdownParser) Type() string { return "markdown" }

func (p *MarkdownParser) Parse(data []byte, cfg manifest.ParserConfig) ([]ParsedChunk, error) {
	size := cfg.ChunkSize
	if size <= 0 {
		size = defaultChunkSize
	}

	var chunks []ParsedChunk
	var section strings.Builder
	heading := ""

	flush := func() {
		text := strings.TrimSpace(section.String())
		section.Reset()
		if text == "" {
			return
		}
		for _, piece := range splitRunes(text, size) {
			md := map[string]any{}
			if heading != "" {
				md["heading"] = heading
			}
			chunks = append(chunks, ParsedChunk{Text: piece, Metadata: md})
		}
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "#") {
			flush()
			heading = strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
		section.WriteString(line)
		section.WriteString("\n")
	}
	flush()
	return chunks, nil
}

func splitRunes(text string, size int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}
	var pieces []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}

// csvRowWindow is how many data rows one CSV chunk covers
const csvRowWindow = 20

// CSVParser emits one chunk per window of rows, prefixing each with
// the header so every chunk reads standalone.
type CSVParser struct{}

func (p *CSVParser) Type() string { return "csv" }

func (p *CSVParser) Parse(data []byte, cfg manifest.ParserConfig) ([]ParsedChunk, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := strings.Join(records[0], ", ")
	rows := records[1:]

	var chunks []ParsedChunk
	for start := 0; start < len(rows); start += csvRowWindow {
		end := start + csvRowWindow
		if end > len(rows) {
			end = len(rows)
		}
		var b strings.Builder
		b.WriteString(header)
		b.WriteString("\n")
		for _, row := range rows[start:end] {
			b.WriteString(strings.Join(row, ", "))
			b.WriteString("\n")
		}
		chunks = append(chunks, ParsedChunk{
			Text: b.String(),
			Metadata: map[string]any{
				"row_start": start,
				"row_end":   end,
			},
		})
	}
	if len(chunks) == 0 {
		// Header-only file still yields one chunk.
		chunks = append(chunks, ParsedChunk{Text: header})
	}
	return chunks, nil
}
