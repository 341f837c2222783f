package testutil

import (
	"bytes"
	"os"
	"testing"

	"github.com/klauspost/compress/zip"
)

// ZipEntry is a single file in a test archive, a name ending in "/" is a
// directory.
type ZipEntry struct {
	Name string
	Body string
}

// ZipBytes builds a zip archive with entries in the given order.
func ZipBytes(t testing.TB, entries ...ZipEntry) []byte {
	t.Helper()

	var buffer bytes.Buffer
	w := zip.NewWriter(&buffer)
	for _, e := range entries {
		f, err := w.Create(e.Name)
		if err != nil {
			t.Fatal(err)
		}
		if e.Body == "" {
			continue
		}
		_, err = f.Write([]byte(e.Body))
		if err != nil {
			t.Fatal(err)
		}
	}
	err := w.Close()
	if err != nil {
		t.Fatal(err)
	}
	return buffer.Bytes()
}

// WriteZip writes ZipBytes to path.
func WriteZip(t testing.TB, path string, entries ...ZipEntry) {
	t.Helper()
	err := os.WriteFile(path, ZipBytes(t, entries...), 0600)
	if err != nil {
		t.Fatal(err)
	}
}
