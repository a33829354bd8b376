package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultTag     = "latest"
	MediaTypeModel = "application/vnd.ollama.image.model"
)

type Manifest struct {
	SchemaVersion int     `json:"schemaVersion"`
	Layers        []Layer `json:"layers"`
}

type Layer struct {
	MediaType string `json:"mediaType"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
}

// OllamaDir is $OLLAMA_MODELS or ~/.ollama/models.
func OllamaDir() (string, error) {
	if env := os.Getenv("OLLAMA_MODELS"); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ollama", "models"), nil
}

// Resolve maps a construction path to an artifact on disk. Anything that
// exists, or looks like a filesystem path, is returned unchanged. Bare names
// such as "bitnet" or "bitnet:2b" are looked up in the local Ollama store.
func Resolve(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty path", ErrNotFound)
	}
	if _, err := os.Stat(name); err == nil {
		return name, nil
	}
	if looksLikePath(name) {
		return name, nil
	}

	blob, err := resolveOllama(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrNotFound, name, err)
	}
	return blob, nil
}

func looksLikePath(name string) bool {
	return strings.ContainsRune(name, os.PathSeparator) ||
		strings.ContainsRune(name, '/') ||
		strings.HasSuffix(strings.ToLower(name), ".gguf")
}

func resolveOllama(ref string) (string, error) {
	name, tag, ok := strings.Cut(ref, ":")
	if !ok || tag == "" {
		tag = DefaultTag
	}

	baseDir, err := OllamaDir()
	if err != nil {
		return "", err
	}

	// Official models live under registry.ollama.ai/library.
	manifestPath := filepath.Join(baseDir, "manifests", "registry.ollama.ai", "library", name, tag)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return "", fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("parse manifest %s: %w", manifestPath, err)
	}

	var digest string
	for _, l := range m.Layers {
		if l.MediaType == MediaTypeModel {
			digest = l.Digest
			break
		}
	}
	if digest == "" {
		return "", errors.New("no model layer in manifest")
	}

	// "sha256:abc" is stored as blobs/sha256-abc.
	blobPath := filepath.Join(baseDir, "blobs", strings.Replace(digest, ":", "-", 1))
	if _, err := os.Stat(blobPath); err != nil {
		return "", fmt.Errorf("model blob: %w", err)
	}
	return blobPath, nil
}
