package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

var ErrTokenNotFound = errors.New("refresh token not found in config file")

const refreshTokenKey = "refresh_token"

// FileTokenStore persists rotated refresh tokens by rewriting the config
// file in place. Only the refresh_token value changes; comments, key order
// and whitespace are kept byte for byte.
type FileTokenStore struct {
	Path string

	mu sync.Mutex
}

func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{Path: path}
}

// SaveRefreshToken replaces the refresh_token value with newToken. The
// current value must equal oldToken.
func (s *FileTokenStore) SaveRefreshToken(_ context.Context, oldToken, newToken string) error {
	if oldToken == "" || newToken == "" {
		return fmt.Errorf("refresh token rewrite needs both old and new values")
	}
	if oldToken == newToken {
		return nil
	}
	if !tokenSafe(newToken) {
		return fmt.Errorf("refresh token contains characters that cannot be written in place")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.Path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	updated, err := spliceRefreshToken(data, oldToken, newToken)
	if err != nil {
		return err
	}
	return writeFileAtomic(s.Path, updated, info.Mode().Perm())
}

// spliceRefreshToken swaps the bytes of the top-level refresh_token scalar
// and leaves every other byte of data untouched.
func spliceRefreshToken(data []byte, oldToken, newToken string) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	value := refreshTokenNode(&doc)
	if value == nil || value.Value != oldToken {
		return nil, ErrTokenNotFound
	}

	off, ok := nodeOffset(data, value.Line, value.Column)
	if !ok {
		return nil, fmt.Errorf("refresh token position %d:%d outside config", value.Line, value.Column)
	}
	switch value.Style {
	case yaml.DoubleQuotedStyle, yaml.SingleQuotedStyle:
		off++
	case 0:
	default:
		return nil, fmt.Errorf("refresh token uses an unsupported scalar style")
	}
	end := off + len(oldToken)
	if end > len(data) || !bytes.Equal(data[off:end], []byte(oldToken)) {
		return nil, fmt.Errorf("refresh token at %d:%d is not written literally", value.Line, value.Column)
	}

	out := make([]byte, 0, len(data)-len(oldToken)+len(newToken))
	out = append(out, data[:off]...)
	out = append(out, newToken...)
	out = append(out, data[end:]...)
	return out, nil
}

func refreshTokenNode(doc *yaml.Node) *yaml.Node {
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		if key.Value != refreshTokenKey {
			continue
		}
		if value.Kind != yaml.ScalarNode {
			return nil
		}
		return value
	}
	return nil
}

// nodeOffset converts a 1-based line and character column to a byte offset.
func nodeOffset(data []byte, line, column int) (int, bool) {
	if line < 1 || column < 1 {
		return 0, false
	}
	off := 0
	for l := 1; l < line; l++ {
		i := bytes.IndexByte(data[off:], '\n')
		if i < 0 {
			return 0, false
		}
		off += i + 1
	}
	for c := 1; c < column; c++ {
		if off >= len(data) || data[off] == '\n' {
			return 0, false
		}
		_, size := utf8.DecodeRune(data[off:])
		off += size
	}
	return off, true
}

// tokenSafe reports whether token reads back unchanged as a plain, single
// or double quoted scalar. Spotify issues URL-safe tokens.
func tokenSafe(token string) bool {
	for _, r := range token {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == '~', r == '+', r == '/', r == '=':
		default:
			return false
		}
	}
	return true
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
