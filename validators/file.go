// Package validators contains validators found throughout the application
// that have been abstracted away from the main code. The candidate checks
// are shared by the upload client and the ingestion endpoint
package validators

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"slices"

	"github.com/gabriel-vasile/mimetype"
)

// MaxFileSize is the 500 MiB ceiling enforced on both sides of a transfer
const MaxFileSize int64 = 500 << 20

const maxFileNameSize = 245

// AcceptedTypes must match the declared media type exactly
var AcceptedTypes = []string{
	"video/mp4",
	"video/webm",
	"video/quicktime",
	"video/x-msvideo",
}

var (
	ErrFileTooLarge        = errors.New("file too large")
	ErrFileNameTooLong     = errors.New("file name is too long")
	ErrFileTypeUnsupported = errors.New("unsupported file type")
	ErrNoFile              = errors.New("no file provided")
)

// Reason classifies why a candidate was rejected
type Reason string

const (
	UnsupportedType Reason = "UnsupportedType"
	TooLarge        Reason = "TooLarge"
)

// ValidationError is returned for candidates that break the acceptance
// policy. It unwraps to ErrFileTypeUnsupported or ErrFileTooLarge
type ValidationError struct {
	Reason      Reason
	ContentType string
	Size        int64
	Limit       int64
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case UnsupportedType:
		return "Invalid file type. Please upload MP4, WebM, MOV, or AVI files."
	case TooLarge:
		return fmt.Sprintf("File too large. Maximum size is %dMB.", e.Limit>>20)
	}

	return "invalid file"
}

func (e *ValidationError) Unwrap() error {
	if e.Reason == TooLarge {
		return ErrFileTooLarge
	}

	return ErrFileTypeUnsupported
}

// Policy is the acceptance policy for a candidate file
type Policy struct {
	AllowedTypes []string
	MaxSize      int64
}

func DefaultPolicy() Policy {
	return Policy{
		AllowedTypes: slices.Clone(AcceptedTypes),
		MaxSize:      MaxFileSize,
	}
}

// ValidateCandidate checks the declared media type and size of a file.
// Only declared metadata is looked at, so a mislabeled file passes
func ValidateCandidate(p Policy, contentType string, size int64) error {
	if !slices.Contains(p.AllowedTypes, contentType) {
		return &ValidationError{Reason: UnsupportedType, ContentType: contentType, Size: size, Limit: p.MaxSize}
	}

	if size > p.MaxSize {
		return &ValidationError{Reason: TooLarge, ContentType: contentType, Size: size, Limit: p.MaxSize}
	}

	return nil
}

// FileValidator re-validates an uploaded multipart file on the server. The
// declared header checks run first since they're cheap, then the real size
// is checked by seeking past the limit. With sniff set the first bytes are
// inspected too, which catches clients that lie about the type.
// The returned file is positioned at the start and must be closed by the caller
func FileValidator(fh *multipart.FileHeader, p Policy, sniff bool) (multipart.File, error) {
	if fh == nil {
		return nil, ErrNoFile
	}

	if len(fh.Filename) > maxFileNameSize {
		return nil, ErrFileNameTooLong
	}

	if err := ValidateCandidate(p, fh.Header.Get("Content-Type"), fh.Size); err != nil {
		return nil, err
	}

	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open multipart file, %w", err)
	}

	if sniff {
		mime, err := mimetype.DetectReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to detect file type, %w", err)
		}

		if !sniffedAllowed(p, mime) {
			f.Close()
			return nil, &ValidationError{Reason: UnsupportedType, ContentType: mime.String(), Size: fh.Size, Limit: p.MaxSize}
		}
	}

	if _, err := f.Seek(p.MaxSize, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to seek file, %w", err)
	}

	buf := make([]byte, 1)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		f.Close()
		return nil, fmt.Errorf("failed to read file, %w", err)
	}

	if n > 0 {
		f.Close()
		return nil, &ValidationError{Reason: TooLarge, ContentType: fh.Header.Get("Content-Type"), Size: fh.Size, Limit: p.MaxSize}
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to rewind file, %w", err)
	}

	return f, nil
}

// sniffedAllowed accepts a detected type when it or one of its parents is
// allowed. Brand specific detections such as video/x-m4v or video/3gpp are
// children of video/mp4
func sniffedAllowed(p Policy, mime *mimetype.MIME) bool {
	for m := mime; m != nil; m = m.Parent() {
		if slices.ContainsFunc(p.AllowedTypes, m.Is) {
			return true
		}
	}

	return false
}
