// Package model holds the BitNet model handle shared by every caller.
//
// Construction validates the artifact and records its metadata. Text
// generation is a placeholder capability until the ternary kernels land.
package model

import (
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/23skdu/longbow-bitnet/internal/gguf"
)

var (
	ErrNotFound        = errors.New("model: artifact not found")
	ErrMalformed       = errors.New("model: malformed artifact")
	ErrInvalidEncoding = errors.New("model: prompt is not valid UTF-8")
)

// ResponsePrefix starts every generated response.
const ResponsePrefix = "Ternary inference result for: "

type Info struct {
	Path          string
	Size          int64
	Version       uint32
	TensorCount   uint64
	KVCount       uint64
	Architecture  string
	Name          string
	ContextLength uint64
}

// Model is immutable after Open and safe for concurrent use.
type Model struct {
	info Info
}

// Open resolves path, then reads and validates the GGUF metadata.
func Open(path string) (*Model, error) {
	resolved, err := Resolve(path)
	if err != nil {
		return nil, err
	}

	st, err := os.Stat(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, resolved)
		}
		return nil, fmt.Errorf("model: stat %s: %w", resolved, err)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrMalformed, resolved)
	}

	f, err := gguf.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, resolved)
		}
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("model: open %s: %w", resolved, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, resolved, err)
	}

	return &Model{info: Info{
		Path:          resolved,
		Size:          st.Size(),
		Version:       f.Header.Version,
		TensorCount:   f.Header.TensorCount,
		KVCount:       f.Header.KVCount,
		Architecture:  f.Architecture(),
		Name:          f.Name(),
		ContextLength: f.ContextLength(),
	}}, nil
}

func (m *Model) Info() Info {
	return m.info
}

// Generate returns the model's response to prompt. An empty prompt yields
// the bare prefix, never an empty string.
func (m *Model) Generate(prompt string) (string, error) {
	if !utf8.ValidString(prompt) {
		return "", ErrInvalidEncoding
	}
	return ResponsePrefix + prompt, nil
}

// WriteInfo prints a short human-readable summary.
func (m *Model) WriteInfo(w io.Writer) error {
	i := m.info
	_, err := fmt.Fprintf(w, "path=%s size=%d version=%d arch=%s name=%q tensors=%d kv=%d ctx=%d\n",
		i.Path, i.Size, i.Version, i.Architecture, i.Name, i.TensorCount, i.KVCount, i.ContextLength)
	return err
}
