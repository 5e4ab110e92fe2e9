package zip

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Entry is one file placed in the archive.
type Entry struct {
	Filename string
	Data     []byte
	Modified time.Time
}

// Write streams entries as a zip archive to w. Duplicate names get a numeric
// suffix so no entry shadows another.
func Write(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	used := make(map[string]int, len(entries))
	for i, entry := range entries {
		name := uniqueName(entryName(entry.Filename, i), used)
		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
		if !entry.Modified.IsZero() {
			hdr.Modified = entry.Modified
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			_ = zw.Close()
			return fmt.Errorf("zip: create %s: %w", name, err)
		}
		if _, err := fw.Write(entry.Data); err != nil {
			_ = zw.Close()
			return fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	return zw.Close()
}

func entryName(filename string, index int) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		return fmt.Sprintf("file-%02d", index+1)
	}
	return name
}

func uniqueName(name string, used map[string]int) string {
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n+1, ext)
}
