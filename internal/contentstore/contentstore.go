// Package contentstore is the content-addressed file store the Crawl
// Engine writes pages into and every parser task reads them back out of.
// It derives a deterministic, collision-resistant path from a URL rather
// than hashing content, so a re-crawl of the same URL overwrites its own
// file instead of accumulating duplicates. Every write fsyncs before
// returning, and every read/write takes an advisory flock, matching the
// fcntl-based locking the original file store used.
package contentstore

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// Store is the root of the crawl-output tree: one subdirectory per
// normalized domain, one file per page underneath it.
type Store struct {
	root string
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("contentstore: create root: %w", err)
	}
	return &Store{root: dir}, nil
}

// normalizeDomain lowercases a host and strips a leading "www." so
// "WWW.Example.com" and "example.com" land in the same directory.
func normalizeDomain(domain string) string {
	d := strings.ToLower(domain)
	d = strings.TrimPrefix(d, "www.")
	return strings.ReplaceAll(d, ":", "_")
}

// DomainFromURL extracts and normalizes the host component of a page URL.
func DomainFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("contentstore: parse url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("contentstore: url has no host: %s", rawURL)
	}
	return normalizeDomain(u.Host), nil
}

// pathForURL derives the on-disk filename for a page: the URL path with
// its leading slash stripped and remaining slashes turned into
// underscores, "index" for an empty path, and an ".html" suffix unless
// the path already ends in ".txt" or ".xml" (sitemap/robots fetches).
func pathForURL(rawURL string) (domain, name string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("contentstore: parse url: %w", err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("contentstore: url has no host: %s", rawURL)
	}
	domain = normalizeDomain(u.Host)

	path := strings.TrimPrefix(u.Path, "/")
	if path == "" {
		path = "index"
	} else {
		path = strings.ReplaceAll(path, "/", "_")
	}
	if !strings.HasSuffix(path, ".txt") && !strings.HasSuffix(path, ".xml") {
		path += ".html"
	}
	return domain, path, nil
}

// HTMLPath returns the relative path (domain/filename) a page's content
// would be written to, without writing anything — used by callers that
// need to pre-compute a ParsedDocument's html_file_path before the engine
// finishes fetching.
func HTMLPath(rawURL string) (string, error) {
	domain, name, err := pathForURL(rawURL)
	if err != nil {
		return "", err
	}
	return filepath.Join(domain, name), nil
}

// WriteResult records the paths a single page write produced.
type WriteResult struct {
	HTMLPath    string // relative to the store root
	HeadersPath string // relative to the store root, sibling ".headers.json" file
}

// WritePage writes a page's body and response headers under the store
// root, fsyncing both files before returning so a crash immediately after
// Write never leaves a torn file for a parser to read.
func (s *Store) WritePage(rawURL string, body []byte, headers []byte) (WriteResult, error) {
	domain, name, err := pathForURL(rawURL)
	if err != nil {
		return WriteResult{}, err
	}

	domainDir := filepath.Join(s.root, domain)
	if err := os.MkdirAll(domainDir, 0o755); err != nil {
		return WriteResult{}, fmt.Errorf("contentstore: create domain dir: %w", err)
	}

	htmlRel := filepath.Join(domain, name)
	if err := writeLocked(filepath.Join(s.root, htmlRel), body); err != nil {
		return WriteResult{}, fmt.Errorf("contentstore: write page: %w", err)
	}

	result := WriteResult{HTMLPath: htmlRel}
	if headers != nil {
		headersRel := htmlRel + ".headers.json"
		if err := writeLocked(filepath.Join(s.root, headersRel), headers); err != nil {
			return WriteResult{}, fmt.Errorf("contentstore: write headers: %w", err)
		}
		result.HeadersPath = headersRel
	}
	return result, nil
}

// ReadPage reads a page's content back by its store-relative path, taking
// a shared advisory lock so it never reads a half-written file from a
// concurrent WritePage.
func (s *Store) ReadPage(relPath string) ([]byte, error) {
	return readLocked(filepath.Join(s.root, relPath))
}

// writeLocked writes content to path under an exclusive advisory lock,
// fsyncing before the lock is released and the file closed.
func writeLocked(path string, content []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	if _, err := f.Write(content); err != nil {
		return err
	}
	return f.Sync()
}

// readLocked reads a file under a shared advisory lock. It reads from the
// already-locked descriptor rather than re-opening path, so the content it
// returns is actually covered by the lock.
func readLocked(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	return io.ReadAll(f)
}

// DeletePage removes a page's content and its sibling headers file, if
// present. Missing files are not an error.
func (s *Store) DeletePage(relPath string) error {
	full := filepath.Join(s.root, relPath)
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("contentstore: delete page: %w", err)
	}
	headersPath := full + ".headers.json"
	if err := os.Remove(headersPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("contentstore: delete headers: %w", err)
	}
	return nil
}

// ListDomainFiles lists up to maxFiles page (not header) files for a
// given normalized domain.
func (s *Store) ListDomainFiles(domain string, maxFiles int) ([]string, error) {
	domainDir := filepath.Join(s.root, normalizeDomain(domain))
	entries, err := os.ReadDir(domainDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("contentstore: list domain files: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".headers.json") {
			continue
		}
		files = append(files, filepath.Join(domain, e.Name()))
		if maxFiles > 0 && len(files) >= maxFiles {
			break
		}
	}
	return files, nil
}
