package sources

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/plateflow/plateflow/pkg/ingest/core"
)

// Resolver turns command-line arguments into sources.
type Resolver struct {
	// S3 serves s3:// arguments; nil rejects them.
	S3 ObjectAPI

	// Known filters directory and prefix listings by file name. Explicit
	// file arguments are never filtered so detection can judge them.
	Known func(name string) bool

	// Stdin and StdinName serve the "-" argument.
	Stdin     io.Reader
	StdinName string
}

// Resolve expands args in order: "-" is standard input, s3:// and http(s)://
// are remote, directories are walked, and anything else is a glob pattern
// (a plain path is a pattern matching itself). Duplicates are dropped.
func (r *Resolver) Resolve(ctx context.Context, args []string) ([]core.Source, error) {
	var out []core.Source
	seen := make(map[string]struct{})
	add := func(s core.Source) {
		if _, ok := seen[s.Location()]; ok {
			return
		}
		seen[s.Location()] = struct{}{}
		out = append(out, s)
	}

	for _, arg := range args {
		switch {
		case arg == "-":
			if r.Stdin == nil {
				return nil, fmt.Errorf("standard input is not available")
			}
			name := r.StdinName
			if name == "" {
				name = "stdin"
			}
			add(NewStreamSource(name, r.Stdin))

		case strings.HasPrefix(arg, "s3://"):
			if r.S3 == nil {
				return nil, fmt.Errorf("%s: S3 is not configured", arg)
			}
			objs, err := S3Sources(ctx, r.S3, arg, r.Known)
			if err != nil {
				return nil, err
			}
			for _, o := range objs {
				add(o)
			}

		case strings.HasPrefix(arg, "http://"), strings.HasPrefix(arg, "https://"):
			src, err := NewHTTPSource(arg, nil)
			if err != nil {
				return nil, err
			}
			add(src)

		default:
			files, err := r.local(arg)
			if err != nil {
				return nil, err
			}
			for _, f := range files {
				add(f)
			}
		}
	}
	return out, nil
}

func (r *Resolver) local(pattern string) ([]*FileSource, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no files match pattern: %s", pattern)
	}
	sort.Strings(matches)

	var out []*FileSource
	for _, path := range matches {
		src, err := NewFileSource(path)
		if err != nil {
			return nil, err
		}
		if !src.info.IsDir() {
			out = append(out, src)
			continue
		}
		walked, err := r.walk(path)
		if err != nil {
			return nil, err
		}
		out = append(out, walked...)
	}
	return out, nil
}

// walk collects regular files below dir, skipping hidden entries.
func (r *Resolver) walk(dir string) ([]*FileSource, error) {
	var out []*FileSource
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || (r.Known != nil && !r.Known(d.Name())) {
			return nil
		}
		src, err := NewFileSource(path)
		if err != nil {
			return err
		}
		out = append(out, src)
		return nil
	})
	return out, err
}
