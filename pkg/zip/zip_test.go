package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
)

func TestWriteDedupesNames(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, []Entry{
		{Filename: "jobs/a/01.png", Data: []byte("one")},
		{Filename: "other/01.png", Data: []byte("two")},
		{Filename: "", Data: []byte("three")},
	})
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	want := []struct{ name, body string }{
		{"01.png", "one"},
		{"01-2.png", "two"},
		{"file-03", "three"},
	}
	if len(zr.File) != len(want) {
		t.Fatalf("entries = %d, want %d", len(zr.File), len(want))
	}
	for i, f := range zr.File {
		if f.Name != want[i].name {
			t.Fatalf("entry %d name = %q, want %q", i, f.Name, want[i].name)
		}
		rc, _ := f.Open()
		body, _ := io.ReadAll(rc)
		rc.Close()
		if string(body) != want[i].body {
			t.Fatalf("entry %d body = %q", i, body)
		}
	}
}
