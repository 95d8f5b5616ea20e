// Package persona supplies the static system-instruction text that opens
// every prompt.
package persona

import (
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/relayworks/chat-relay/pkg/logger"
)

// DefaultText is used when no persona file is configured or readable.
const DefaultText = "You are a friendly, concise assistant answering questions over chat. " +
	"Keep replies short enough to read on a phone."

// Source supplies the persona text for a completion call.
type Source interface {
	Text() string
}

// FileSource re-reads the persona file on every call, so edits take effect
// without a restart.
type FileSource struct {
	path   string
	logger *logger.Logger
}

// NewFileSource creates a FileSource for the given path.
func NewFileSource(path string, log *logger.Logger) *FileSource {
	return &FileSource{path: path, logger: log}
}

// Text returns the persona text, falling back to DefaultText when the file
// is missing or empty.
func (s *FileSource) Text() string {
	if s.path == "" {
		return DefaultText
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Warn("persona file unreadable, using default",
			zap.String("path", s.path), zap.Error(err))
		return DefaultText
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return DefaultText
	}
	return text
}

// Static is a fixed persona source. Useful in tests.
type Static string

// Text returns the static persona text.
func (s Static) Text() string {
	return string(s)
}
