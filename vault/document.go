package vault

import (
	"fmt"
	"time"

	"github.com/ambiyansyah-risyal/titipan"
)

// Document is the platform's document record, echoed back by the
// upload endpoint.
type Document struct {
	ID            string            `json:"id"`
	ApplicationID string            `json:"applicationId"`
	Name          string            `json:"name"`
	ContentType   string            `json:"contentType"`
	Size          int64             `json:"size"`
	Checksum      string            `json:"checksum"`
	Encrypted     bool              `json:"encrypted"`
	StoragePath   string            `json:"storagePath"`
	Status        string            `json:"status"`
	CreatedAt     time.Time         `json:"createdAt"`
	Metadata      map[string]string `json:"metadata"`
}

// File is a document payload to upload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// UploadOptions controls one upload.
type UploadOptions struct {
	// Encrypt seals the payload client-side; the plaintext is never
	// transmitted.
	Encrypt bool
	// Metadata is attached to the document record.
	Metadata map[string]string
	// IdempotencyKey makes the upload safe to retry after an
	// interruption. Without it the upload is attempted exactly once.
	IdempotencyKey string
}

// DownloadOptions controls one download.
type DownloadOptions struct {
	// Decrypt reconstructs the encryption envelope from the wire format
	// and decrypts locally.
	Decrypt bool
}

// DefaultMaxSize is the upload size ceiling.
const DefaultMaxSize = 25 << 20 // 25 MiB

// DefaultAllowedTypes lists the content types the platform accepts for
// funding documents.
var DefaultAllowedTypes = []string{
	"application/pdf",
	"image/png",
	"image/jpeg",
	"image/tiff",
}

// validateFile enforces the size ceiling and content-type allow-list.
// Violations fail before any network traffic.
func (m *Manager) validateFile(file File) error {
	var details []titipan.FieldDetail

	if len(file.Name) == 0 {
		details = append(details, titipan.FieldDetail{Field: "name", Message: "file name is required"})
	}
	if int64(len(file.Data)) > m.maxSize {
		details = append(details, titipan.FieldDetail{
			Field:   "data",
			Message: fmt.Sprintf("file size %d exceeds ceiling %d", len(file.Data), m.maxSize),
		})
	}
	if len(file.Data) == 0 {
		details = append(details, titipan.FieldDetail{Field: "data", Message: "file is empty"})
	}
	if !m.allowedTypes[file.ContentType] {
		details = append(details, titipan.FieldDetail{
			Field:   "contentType",
			Message: fmt.Sprintf("content type %q is not allowed", file.ContentType),
		})
	}

	if len(details) > 0 {
		return &titipan.APIError{
			Kind:      titipan.KindValidation,
			Message:   "file validation failed",
			Details:   details,
			Timestamp: time.Now(),
		}
	}
	return nil
}
