// Package pathsafe validates user-supplied relative paths against a
// volume root, rejecting traversal attempts before any filesystem
// operation touches them. Grounded on the original implementation's
// filesystem security module, translated to Go's path/filepath idiom.
package pathsafe

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/lightdaemon/lightd/pkg/lightderr"
)

// Validate checks userPath for traversal, absolute-path, and drive-letter
// attempts, then resolves it against volumeRoot and confirms the result
// (or its nearest existing ancestor) stays within the volume boundary.
// It returns the joined, non-canonicalised path — suitable for creation —
// not the resolved symlink target.
func Validate(volumeRoot, userPath string) (string, error) {
	trimmed := strings.TrimSpace(userPath)
	if trimmed == "" {
		return "", lightderr.New(lightderr.Validation, "path cannot be empty")
	}
	if strings.HasPrefix(userPath, "/") || strings.HasPrefix(userPath, "\\") {
		return "", lightderr.New(lightderr.Validation, "absolute paths are not allowed")
	}
	if len(userPath) >= 2 && userPath[1] == ':' {
		return "", lightderr.New(lightderr.Validation, "drive letters are not allowed")
	}
	if strings.Contains(userPath, "..") {
		return "", lightderr.New(lightderr.Validation, "path traversal (..) is not allowed")
	}

	canonicalRoot, err := filepath.EvalSymlinks(volumeRoot)
	if err != nil {
		return "", lightderr.Wrap(lightderr.IO, "resolve volume root", err)
	}

	fullPath := filepath.Join(volumeRoot, userPath)

	pathToCheck := fullPath
	if _, err := os.Stat(fullPath); err == nil {
		resolved, err := filepath.EvalSymlinks(fullPath)
		if err != nil {
			return "", lightderr.Wrap(lightderr.IO, "resolve path", err)
		}
		pathToCheck = resolved
	} else {
		checkPath := fullPath
		for {
			if _, err := os.Stat(checkPath); err == nil {
				break
			}
			parent := filepath.Dir(checkPath)
			if parent == checkPath {
				break
			}
			checkPath = parent
		}
		if _, err := os.Stat(checkPath); err == nil {
			canonicalParent, err := filepath.EvalSymlinks(checkPath)
			if err != nil {
				return "", lightderr.Wrap(lightderr.IO, "resolve parent path", err)
			}
			if !withinRoot(canonicalRoot, canonicalParent) {
				return "", lightderr.New(lightderr.Validation, "path escapes volume boundary")
			}
		}
		return fullPath, nil
	}

	if !withinRoot(canonicalRoot, pathToCheck) {
		return "", lightderr.New(lightderr.Validation, "path escapes volume boundary")
	}
	return fullPath, nil
}

// ValidateRead validates a path that must already exist.
func ValidateRead(volumeRoot, userPath string) (string, error) {
	path, err := Validate(volumeRoot, userPath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", lightderr.New(lightderr.NotFound, "path does not exist")
	}

	canonicalRoot, err := filepath.EvalSymlinks(volumeRoot)
	if err != nil {
		return "", lightderr.Wrap(lightderr.IO, "resolve volume root", err)
	}
	canonicalPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", lightderr.Wrap(lightderr.IO, "resolve path", err)
	}
	if !withinRoot(canonicalRoot, canonicalPath) {
		return "", lightderr.New(lightderr.Validation, "path escapes volume boundary (symlink detected)")
	}
	return path, nil
}

// ValidateWrite validates a path whose parent directory, if it exists,
// must stay within the volume boundary.
func ValidateWrite(volumeRoot, userPath string) (string, error) {
	path, err := Validate(volumeRoot, userPath)
	if err != nil {
		return "", err
	}

	parent := filepath.Dir(path)
	if _, err := os.Stat(parent); err != nil {
		return path, nil
	}

	canonicalRoot, err := filepath.EvalSymlinks(volumeRoot)
	if err != nil {
		return "", lightderr.Wrap(lightderr.IO, "resolve volume root", err)
	}
	canonicalParent, err := filepath.EvalSymlinks(parent)
	if err != nil {
		return "", lightderr.Wrap(lightderr.IO, "resolve parent", err)
	}
	if !withinRoot(canonicalRoot, canonicalParent) {
		return "", lightderr.New(lightderr.Validation, "parent directory escapes volume boundary")
	}
	return path, nil
}

func withinRoot(root, candidate string) bool {
	rel, err := filepath.Rel(root, candidate)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}
