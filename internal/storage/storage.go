package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DocumentStore persists rendered documents under a relative path. Writing
// the same path twice overwrites the first copy.
type DocumentStore interface {
	Put(ctx context.Context, path string, content []byte, contentType string) error
}

// DocumentPath returns {lower(email)}/{YYYY}/{MM}/{invoiceNumber}.pdf, using
// "unknown" for the folder when there is no email.
func DocumentPath(email string, date time.Time, invoiceNumber string) string {
	folder := strings.ToLower(strings.TrimSpace(email))
	folder = strings.NewReplacer("/", "_", "\\", "_").Replace(folder)
	if folder == "" {
		folder = "unknown"
	}
	return fmt.Sprintf("%s/%04d/%02d/%s.pdf", folder, date.Year(), int(date.Month()), invoiceNumber)
}
