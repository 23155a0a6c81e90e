// Package fetchtest builds release archives for tests.
package fetchtest

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"sort"
)

// Entry is one archive member. A Link entry becomes a symlink.
type Entry struct {
	Body string
	Link string
	Mode int64
}

// TarGz packs files (slash-separated names) into a gzip-compressed tarball.
// Names are written in sorted order so the output is deterministic.
func TarGz(files map[string]string) []byte {
	entries := make(map[string]Entry, len(files))
	for name, body := range files {
		entries[name] = Entry{Body: body}
	}
	return TarGzEntries(entries)
}

// TarGzEntries is TarGz with explicit entry types.
func TarGzEntries(entries map[string]Entry) []byte {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, name := range names {
		e := entries[name]
		mode := e.Mode
		if mode == 0 {
			mode = 0o644
		}
		hdr := &tar.Header{Name: name, Mode: mode}
		if e.Link != "" {
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.Link
		} else {
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.Body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			panic(err)
		}
		if e.Link == "" {
			if _, err := tw.Write([]byte(e.Body)); err != nil {
				panic(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		panic(err)
	}
	if err := gz.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Manifest returns a manifest.json body for version v.
func Manifest(v string) string {
	return `{"version":"` + v + `","releaseDate":"2026-04-01"}` + "\n"
}
