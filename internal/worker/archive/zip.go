// Package archive adapts the opaque archive-reading library: given raw
// bytes it yields named entries with lazy byte producers. The core never
// parses archive internals itself.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

// ErrNoMediaFound means the archive held no recognized media entry.
var ErrNoMediaFound = errors.New("no media found in archive")

// Entry is one archive member. Open is lazy: bytes are produced only when
// the entry is actually extracted.
type Entry struct {
	Name   string
	Dir    bool
	Hidden bool
	Open   func() ([]byte, error)
}

// Opener turns raw archive bytes into entries.
type Opener interface {
	Entries(data []byte) ([]Entry, error)
}

// ZipOpener reads zip archives through the standard reader.
type ZipOpener struct{}

func (ZipOpener) Entries(data []byte) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		entries = append(entries, Entry{
			Name:   f.Name,
			Dir:    f.FileInfo().IsDir(),
			Hidden: hidden(f.Name),
			Open:   lazyOpen(f),
		})
	}
	return entries, nil
}

func lazyOpen(f *zip.File) func() ([]byte, error) {
	return func() ([]byte, error) {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open archive entry %q: %w", f.Name, err)
		}
		defer rc.Close()

		b, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read archive entry %q: %w", f.Name, err)
		}
		return b, nil
	}
}

func hidden(name string) bool {
	if strings.HasPrefix(name, "__MACOSX/") {
		return true
	}
	return strings.HasPrefix(path.Base(strings.TrimSuffix(name, "/")), ".")
}

var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".ogv":  "video/ogg",
}

// MediaType maps an entry name to its media type; ok is false for
// unrecognized entries.
func MediaType(name string) (string, bool) {
	mt, ok := mediaTypes[strings.ToLower(path.Ext(name))]
	return mt, ok
}

// MediaEntries filters entries down to recognized media files, skipping
// directories and hidden members, sorted by name. Entry order inside the
// archive does not matter.
func MediaEntries(entries []Entry) []Entry {
	media := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Dir || e.Hidden {
			continue
		}
		if _, ok := MediaType(e.Name); ok {
			media = append(media, e)
		}
	}
	sort.Slice(media, func(i, j int) bool { return media[i].Name < media[j].Name })
	return media
}
