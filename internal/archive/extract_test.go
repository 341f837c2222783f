package archive

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"moodledl/internal/components/testutil"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

// readTree returns every file under root keyed by its slash separated
// relative path, directories map to "<dir>".
func readTree(t *testing.T, root string) map[string]string {
	tree := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			tree[filepath.ToSlash(rel)] = "<dir>"
			return nil
		}
		contents, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		tree[filepath.ToSlash(rel)] = string(contents)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return tree
}

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "course.zip")
	testutil.WriteZip(t, archive,
		testutil.ZipEntry{Name: "a.txt", Body: "hello"},
		testutil.ZipEntry{Name: "dir/b.txt", Body: "world"},
	)

	dest := filepath.Join(dir, "course")
	require.NoError(t, Extract(archive, dest))

	require.Equal(t, map[string]string{
		"a.txt":     "hello",
		"dir":       "<dir>",
		"dir/b.txt": "world",
	}, readTree(t, dest))
}

func TestExtractIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "course.zip")
	testutil.WriteZip(t, archive,
		testutil.ZipEntry{Name: "Week 1/", Body: ""},
		testutil.ZipEntry{Name: "Week 1/notes.txt", Body: "line one\r\nline two\n"},
		testutil.ZipEntry{Name: "index.html", Body: "<h1>Course</h1>"},
	)

	dest := filepath.Join(dir, "course")
	require.NoError(t, Extract(archive, dest))
	first := readTree(t, dest)

	require.NoError(t, Extract(archive, dest))
	require.Equal(t, first, readTree(t, dest))
	require.Equal(t, "line one\r\nline two\n", first["Week 1/notes.txt"])
}

func TestExtractOverwritesLongerFile(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "course.zip")
	testutil.WriteZip(t, archive, testutil.ZipEntry{Name: "a.txt", Body: "new"})

	dest := filepath.Join(dir, "course")
	require.NoError(t, os.MkdirAll(dest, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "a.txt"), []byte("old and longer"), 0644))

	require.NoError(t, Extract(archive, dest))
	contents, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "new", string(contents))
}

func TestExtractEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "course.zip")
	testutil.WriteZip(t, archive, testutil.ZipEntry{Name: "empty/"})

	dest := filepath.Join(dir, "course")
	require.NoError(t, Extract(archive, dest))
	require.Equal(t, map[string]string{"empty": "<dir>"}, readTree(t, dest))
}

func TestExtractUnsafePath(t *testing.T) {
	cases := []string{
		"../evil.txt",
		"dir/../../evil.txt",
		`..\evil.txt`,
		"/evil.txt",
	}

	for _, name := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			archive := filepath.Join(dir, "course.zip")
			testutil.WriteZip(t, archive, testutil.ZipEntry{Name: name, Body: "evil"})

			dest := filepath.Join(dir, "nested", "course")
			err := Extract(archive, dest)
			require.ErrorIs(t, err, ErrUnsafePath)

			_, err = os.Stat(filepath.Join(dir, "nested", "evil.txt"))
			require.True(t, os.IsNotExist(err))
			_, err = os.Stat(filepath.Join(dir, "evil.txt"))
			require.True(t, os.IsNotExist(err))
			require.Empty(t, readTree(t, dest))
		})
	}
}

func TestExtractStopsAtFirstError(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "course.zip")
	testutil.WriteZip(t, archive,
		testutil.ZipEntry{Name: "first.txt", Body: "kept"},
		testutil.ZipEntry{Name: "../evil.txt", Body: "evil"},
		testutil.ZipEntry{Name: "last.txt", Body: "never written"},
	)

	dest := filepath.Join(dir, "course")
	require.ErrorIs(t, Extract(archive, dest), ErrUnsafePath)
	require.Equal(t, map[string]string{"first.txt": "kept"}, readTree(t, dest))
}

func TestExtractCorrupt(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "course.zip")
	require.NoError(t, os.WriteFile(archive, []byte("<html>not a zip</html>"), 0600))

	require.ErrorIs(t, Extract(archive, filepath.Join(dir, "course")), ErrCorrupt)
}

func TestExtractIo(t *testing.T) {
	dir := t.TempDir()

	err := Extract(filepath.Join(dir, "missing.zip"), filepath.Join(dir, "course"))
	require.ErrorIs(t, err, ErrIo)

	archive := filepath.Join(dir, "course.zip")
	testutil.WriteZip(t, archive, testutil.ZipEntry{Name: "a/b.txt", Body: "b"})

	// a file where a directory needs to be
	dest := filepath.Join(dir, "course")
	require.NoError(t, os.MkdirAll(dest, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "a"), []byte("file"), 0644))
	require.ErrorIs(t, Extract(archive, dest), ErrIo)
}

func packTree(t *testing.T, root, archivePath string) {
	out, err := os.Create(archivePath)
	require.NoError(t, err)
	defer out.Close()

	w := zip.NewWriter(out)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return err
		}
		name := filepath.ToSlash(rel)
		if d.IsDir() {
			_, err = w.Create(name + "/")
			return err
		}
		contents, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		f, err := w.Create(name)
		if err != nil {
			return err
		}
		_, err = f.Write(contents)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestExtractRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")

	binary := make([]byte, 4096)
	for i := range binary {
		binary[i] = byte(i * 7)
	}
	files := map[string][]byte{
		"syllabus.pdf":                 binary,
		"Week 1/Reading.html":          []byte("<p>ünïcode</p>\r\n"),
		"Week 1/Homework/problems.txt": []byte("1. 2+2\n"),
		"Week 2/empty.txt":             {},
	}
	for name, contents := range files {
		path := filepath.Join(src, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, contents, 0644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(src, "Week 3"), 0755))

	archive := filepath.Join(dir, "course.zip")
	packTree(t, src, archive)

	dest := filepath.Join(dir, "dest")
	require.NoError(t, Extract(archive, dest))
	require.Equal(t, readTree(t, src), readTree(t, dest))
}

func TestEntryPath(t *testing.T) {
	path, err := EntryPath("/out", "Week 1/notes.txt")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("/out", "Week 1", "notes.txt"), path)

	_, err = EntryPath("/out", "")
	require.ErrorIs(t, err, ErrUnsafePath)
}
