package filesystem

import (
	"encoding/base64"
	"fmt"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gobwas/glob"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/modelctx/mcp"
)

// validatePath resolves a requested path against the allowed roots. Symlinks
// are followed before the containment check, so a link pointing outside the
// sandbox is rejected. Paths that do not exist yet are allowed if their
// parent directory is inside a root, so write_file can create new files.
func (s *Server) validatePath(requested string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(requested))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %s: %w", requested, err)
	}
	if !s.allowed(abs) {
		return "", fmt.Errorf("access denied - path %s outside allowed directories %s",
			requested, strings.Join(s.roots, ", "))
	}

	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to resolve symlinks for %s: %w", requested, err)
		}
		parent, err := filepath.EvalSymlinks(filepath.Dir(abs))
		if err != nil {
			if os.IsNotExist(err) {
				return "", fmt.Errorf("access denied - parent directory of %s does not exist", requested)
			}
			return "", fmt.Errorf("failed to resolve symlinks for %s: %w", requested, err)
		}
		if !s.allowed(parent) {
			return "", fmt.Errorf("access denied - parent of %s outside allowed directories %s",
				requested, strings.Join(s.roots, ", "))
		}
		return abs, nil
	}

	if !s.allowed(real) {
		return "", fmt.Errorf("access denied - real path of %s outside allowed directories %s",
			requested, strings.Join(s.roots, ", "))
	}
	return real, nil
}

func (s *Server) allowed(path string) bool {
	path = filepath.Clean(path)
	for _, root := range s.roots {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			continue
		}
		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
			return true
		}
	}
	return false
}

// applyEdits applies each replacement exactly once, in order. Line endings
// are normalized to \n before matching so CRLF input still matches.
func applyEdits(content string, edits []editOperation) (string, error) {
	modified := normalizeLineEndings(content)
	for _, edit := range edits {
		oldText := normalizeLineEndings(edit.OldText)
		if !strings.Contains(modified, oldText) {
			return "", fmt.Errorf("could not find exact match for edit:\n%s", edit.OldText)
		}
		modified = strings.Replace(modified, oldText, normalizeLineEndings(edit.NewText), 1)
	}
	return modified, nil
}

func normalizeLineEndings(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// unifiedDiff renders the change from original to modified as a git-style
// patch.
func unifiedDiff(original, modified, path string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(normalizeLineEndings(original), normalizeLineEndings(modified), true)
	patches := dmp.PatchMake(diffs)

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s (original)\n", path)
	fmt.Fprintf(&sb, "+++ %s (modified)\n", path)
	sb.WriteString(dmp.PatchToText(patches))
	return sb.String()
}

// searchFiles walks root and returns files whose root-relative path matches
// pattern. Patterns without a wildcard match as substrings of the file name,
// which is what callers searching by name fragment expect.
func searchFiles(root, pattern string, exclude []string) ([]string, error) {
	var matcher glob.Glob
	if strings.ContainsAny(pattern, "*?[{") {
		compiled, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		matcher = compiled
	}

	excluded := make([]glob.Glob, 0, len(exclude))
	for _, p := range exclude {
		if !strings.Contains(p, "*") {
			// A bare name excludes that entry anywhere in the tree, plus
			// everything under it.
			p = fmt.Sprintf("{%[1]s,%[1]s/**,**/%[1]s,**/%[1]s/**}", p)
		}
		compiled, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern %q: %w", p, err)
		}
		excluded = append(excluded, compiled)
	}

	var results []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		for _, ex := range excluded {
			if ex.Match(rel) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if d.IsDir() {
			return nil
		}

		if matcher != nil {
			if matcher.Match(rel) {
				results = append(results, path)
			}
		} else if strings.Contains(strings.ToLower(d.Name()), strings.ToLower(pattern)) {
			results = append(results, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search files: %w", err)
	}
	return results, nil
}

// collectResources lists every regular file under the roots as a file://
// resource.
func (s *Server) collectResources() ([]mcp.Resource, error) {
	var resources []mcp.Resource
	for _, root := range s.roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if d.Name() == ".git" {
					return filepath.SkipDir
				}
				return nil
			}
			resources = append(resources, mcp.Resource{
				URI:      fileURI(path),
				Name:     d.Name(),
				MimeType: mimeTypeOf(path),
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk root %s: %w", root, err)
		}
	}
	if resources == nil {
		resources = []mcp.Resource{}
	}
	return resources, nil
}

// readResourceContents resolves a file:// URI to the file's contents. Text
// files come back as text, anything else as base64.
func (s *Server) readResourceContents(uri string) (mcp.ResourceContents, error) {
	path, err := pathFromURI(uri)
	if err != nil {
		return mcp.ResourceContents{}, err
	}
	valid, err := s.validatePath(path)
	if err != nil {
		return mcp.ResourceContents{}, err
	}
	data, err := os.ReadFile(valid)
	if err != nil {
		return mcp.ResourceContents{}, fmt.Errorf("failed to read resource %s: %w", uri, err)
	}

	contents := mcp.ResourceContents{
		URI:      uri,
		MimeType: mimeTypeOf(valid),
	}
	if utf8.Valid(data) {
		contents.Text = string(data)
	} else {
		contents.Blob = base64.StdEncoding.EncodeToString(data)
	}
	return contents, nil
}

func fileURI(path string) string {
	return "file://" + filepath.ToSlash(path)
}

func pathFromURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid resource URI %s: %w", uri, err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported resource scheme: %s", u.Scheme)
	}
	return filepath.FromSlash(u.Path), nil
}

func mimeTypeOf(path string) string {
	t := mime.TypeByExtension(filepath.Ext(path))
	if t == "" {
		return "application/octet-stream"
	}
	return t
}
