package inmet

import (
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/couchcryptid/inmet-weather-etl/internal/domain"
)

// maxEntrySize caps a single extracted station file. A full year of hourly
// rows is a few megabytes.
const maxEntrySize = 256 << 20

// Archive is an opened yearly archive. Entries are the station files sorted
// by name; other members are skipped.
type Archive struct {
	Year    int
	local   LocalArchive
	zr      *zip.ReadCloser
	entries []entry
}

// entry is one station file inside an archive. zip entries can be read from
// several goroutines at once.
type entry struct {
	name string
	file *zip.File
}

func openArchive(year int, local LocalArchive) (*Archive, error) {
	zr, err := zip.OpenReader(local.Path)
	if err != nil {
		if local.Temporary {
			_ = os.Remove(local.Path)
		}
		return nil, fmt.Errorf("open archive %d: %w: %w", year, domain.ErrCorruptArchive, err)
	}

	var entries []entry
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !isStationFile(f.Name) {
			continue
		}
		entries = append(entries, entry{name: f.Name, file: f})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	return &Archive{Year: year, local: local, zr: zr, entries: entries}, nil
}

func isStationFile(name string) bool {
	return strings.EqualFold(path.Ext(name), ".csv")
}

// Len returns the number of station files.
func (a *Archive) Len() int {
	return len(a.entries)
}

// Entries returns the station files in archive order.
func (a *Archive) Entries() []domain.ArchiveEntry {
	out := make([]domain.ArchiveEntry, len(a.entries))
	for i, e := range a.entries {
		out[i] = domain.ArchiveEntry{Name: e.name, Read: e.read}
	}
	return out
}

// Close releases the archive and removes a temporary download.
func (a *Archive) Close() error {
	err := a.zr.Close()
	if a.local.Temporary {
		if rmErr := os.Remove(a.local.Path); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return err
}

// read extracts the entry. Extraction failures are carried in RawFile.Err as
// ErrCorruptArchive so the rest of the archive can continue.
func (e entry) read() domain.RawFile {
	raw := domain.RawFile{Name: e.name}
	rc, err := e.file.Open()
	if err != nil {
		raw.Err = fmt.Errorf("extract %s: %w: %w", e.name, domain.ErrCorruptArchive, err)
		return raw
	}
	defer rc.Close()

	content, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
	switch {
	case err != nil:
		raw.Err = fmt.Errorf("extract %s: %w: %w", e.name, domain.ErrCorruptArchive, err)
	case len(content) > maxEntrySize:
		raw.Err = fmt.Errorf("extract %s: %w: entry exceeds %d bytes", e.name, domain.ErrCorruptArchive, maxEntrySize)
	default:
		raw.Content = content
	}
	return raw
}
