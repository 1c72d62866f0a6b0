package snapshot

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// pack archives the directory tree at dir into a zstd-compressed tar stream.
// Entries are written in lexical walk order, so the same tree always packs
// to the same layout. Returns the archive plus the file count and total
// uncompressed payload bytes.
func pack(dir string) ([]byte, int, int64, error) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("snapshot: creating compressor: %w", err)
	}
	tw := tar.NewWriter(zw)

	files := 0
	var payload int64

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			header := &tar.Header{
				Name:     rel + "/",
				Typeflag: tar.TypeDir,
				Mode:     int64(info.Mode().Perm()),
			}
			return tw.WriteHeader(header)

		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			header := &tar.Header{
				Name:     rel,
				Typeflag: tar.TypeSymlink,
				Linkname: link,
				Mode:     int64(info.Mode().Perm()),
			}
			return tw.WriteHeader(header)

		case info.Mode().IsRegular():
			header := &tar.Header{
				Name:     rel,
				Typeflag: tar.TypeReg,
				Mode:     int64(info.Mode().Perm()),
				Size:     info.Size(),
			}
			if err := tw.WriteHeader(header); err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			n, err := io.Copy(tw, f)
			f.Close()
			if err != nil {
				return err
			}
			files++
			payload += n
			return nil

		default:
			// Sockets, devices and the like have no place in session
			// storage.
			return nil
		}
	})
	if err != nil {
		return nil, 0, 0, fmt.Errorf("snapshot: packing %s: %w", dir, err)
	}

	if err := tw.Close(); err != nil {
		return nil, 0, 0, fmt.Errorf("snapshot: finalizing tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, 0, 0, fmt.Errorf("snapshot: finalizing compression: %w", err)
	}

	return buf.Bytes(), files, payload, nil
}

// unpack extracts an archive produced by pack into dir, fully replacing
// dir's previous contents. Extraction goes to a staging sibling first and is
// swapped in only when complete, so a crash mid-extract never leaves a
// half-restored tree.
func unpack(archive []byte, dir string) (int, int64, error) {
	staging := dir + ".restoring"
	if err := os.RemoveAll(staging); err != nil {
		return 0, 0, fmt.Errorf("snapshot: clearing staging dir: %w", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return 0, 0, fmt.Errorf("snapshot: creating staging dir: %w", err)
	}

	files, payload, err := extract(archive, staging)
	if err != nil {
		os.RemoveAll(staging)
		return 0, 0, err
	}

	if err := os.RemoveAll(dir); err != nil {
		os.RemoveAll(staging)
		return 0, 0, fmt.Errorf("snapshot: clearing target dir: %w", err)
	}
	if err := os.Rename(staging, dir); err != nil {
		os.RemoveAll(staging)
		return 0, 0, fmt.Errorf("snapshot: publishing restored tree: %w", err)
	}

	return files, payload, nil
}

func extract(archive []byte, dest string) (int, int64, error) {
	zr, err := zstd.NewReader(bytes.NewReader(archive))
	if err != nil {
		return 0, 0, fmt.Errorf("snapshot: opening decompressor: %w", err)
	}
	defer zr.Close()
	tr := tar.NewReader(zr)

	files := 0
	var payload int64

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, 0, fmt.Errorf("snapshot: reading tar: %w", err)
		}

		name := filepath.FromSlash(header.Name)
		if strings.Contains(header.Name, "..") {
			return 0, 0, fmt.Errorf("snapshot: archive entry escapes root: %q", header.Name)
		}
		path := filepath.Join(dest, name)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, fs.FileMode(header.Mode)); err != nil {
				return 0, 0, fmt.Errorf("snapshot: extracting dir %s: %w", header.Name, err)
			}

		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return 0, 0, fmt.Errorf("snapshot: extracting %s: %w", header.Name, err)
			}
			if err := os.Symlink(header.Linkname, path); err != nil {
				return 0, 0, fmt.Errorf("snapshot: extracting symlink %s: %w", header.Name, err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return 0, 0, fmt.Errorf("snapshot: extracting %s: %w", header.Name, err)
			}
			f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fs.FileMode(header.Mode))
			if err != nil {
				return 0, 0, fmt.Errorf("snapshot: extracting file %s: %w", header.Name, err)
			}
			n, err := io.Copy(f, tr)
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return 0, 0, fmt.Errorf("snapshot: extracting file %s: %w", header.Name, err)
			}
			files++
			payload += n
		}
	}

	return files, payload, nil
}
