package pipeline

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/llamafarm/llamafarm/pkg/manifest"
	"github.com/llamafarm/llamafarm/pkg/types"
)

// Discover resolves a source path into the ordered file list the
// strategy's directory filter admits. A plain file becomes a
// single-element list; unreadable entries are skipped with a reason,
// never fatal.
func Discover(sourcePath string, filter manifest.DirectoryFilter) ([]string, []types.SkippedFile, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, nil, fmt.Errorf("source path unreadable: %w", err)
	}
	if !info.IsDir() {
		return []string{sourcePath}, nil, nil
	}

	var files []string
	var skipped []types.SkippedFile

	walkErr := filepath.WalkDir(sourcePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			skipped = append(skipped, types.SkippedFile{Path: path, Reason: fmt.Sprintf("unreadable: %v", err)})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != sourcePath && !filter.Recursive {
				return fs.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 && !filter.FollowSymlinks {
			skipped = append(skipped, types.SkippedFile{Path: path, Reason: "symlink (follow_symlinks disabled)"})
			return nil
		}

		rel, err := filepath.Rel(sourcePath, path)
		if err != nil {
			rel = filepath.Base(path)
		}

		if excluded(rel, filter.Exclude) {
			return nil
		}
		if len(filter.Include) > 0 && !included(rel, filter.Include) {
			return nil
		}

		if filter.MaxFiles > 0 && len(files) >= filter.MaxFiles {
			skipped = append(skipped, types.SkippedFile{Path: path, Reason: "max_files limit reached"})
			return nil
		}

		files = append(files, path)
		return nil
	})
	if walkErr != nil {
		return nil, nil, fmt.Errorf("directory walk failed: %w", walkErr)
	}

	return files, skipped, nil
}

func included(rel string, patterns []string) bool {
	return matchAny(rel, patterns)
}

func excluded(rel string, patterns []string) bool {
	return matchAny(rel, patterns)
}

// matchAny matches glob patterns against the relative path and against
// each path element, so ".*" excludes dotfiles at any depth.
func matchAny(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}

// RouteParser finds the first declared parser whose extension list
// matches the file. Declaration order wins ties; no match means the
// file is skipped with a reason.
func RouteParser(parsers []manifest.ParserConfig, path string) (*manifest.ParserConfig, bool) {
	ext := filepath.Ext(path)
	for i := range parsers {
		for _, candidate := range parsers[i].FileExtensions {
			if candidate == ext {
				return &parsers[i], true
			}
		}
	}
	return nil, false
}
