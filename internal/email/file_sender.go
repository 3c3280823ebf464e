package email

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileEmailSender appends each raw message to a log file.
type FileEmailSender struct {
	mu       sync.Mutex
	filePath string
	now      func() time.Time
}

// NewFileEmailSender creates the file's directory if needed.
func NewFileEmailSender(filePath string) (*FileEmailSender, error) {
	if strings.TrimSpace(filePath) == "" {
		return nil, fmt.Errorf("email log file path cannot be empty")
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for email log file '%s': %w", dir, err)
	}

	return &FileEmailSender{filePath: filePath, now: time.Now}, nil
}

func (s *FileEmailSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open email log file: %w", err)
	}
	defer file.Close()

	var entry strings.Builder
	fmt.Fprintf(&entry, "--- Email Logged at %s (To: %v, Subject: %s) ---\n",
		s.now().Format(time.RFC3339Nano), to, subject)
	entry.Write(rawMessage)
	entry.WriteString("\n--- End Logged Email ---\n\n")

	if _, err := file.WriteString(entry.String()); err != nil {
		return fmt.Errorf("failed to write email to log file: %w", err)
	}
	return nil
}
