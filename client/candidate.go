package client

import (
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Candidate is a file the user picked. Nothing is read until Open is called
type Candidate struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

var extTypes = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
}

// TypeByExtension returns the declared media type for a file name the same
// way a browser would, by extension only
func TypeByExtension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := extTypes[ext]; ok {
		return t
	}

	return mime.TypeByExtension(ext)
}

// FileCandidate builds a candidate from a file on disk
func FileCandidate(path string) (Candidate, error) {
	return FSCandidate(afero.NewOsFs(), path)
}

func FSCandidate(fs afero.Fs, path string) (Candidate, error) {
	fi, err := fs.Stat(path)
	if err != nil {
		return Candidate{}, err
	}

	return Candidate{
		Name:        fi.Name(),
		ContentType: TypeByExtension(fi.Name()),
		Size:        fi.Size(),
		Open: func() (io.ReadCloser, error) {
			return fs.Open(path)
		},
	}, nil
}

// Preview is a local rendition of a selected candidate. It must be released
// once the candidate is replaced or dropped
type Preview interface {
	Release() error
}

type PreviewFunc func(Candidate) (Preview, error)

type noPreview struct{}

func (noPreview) Release() error { return nil }

func NoPreview(Candidate) (Preview, error) {
	return noPreview{}, nil
}
