// Copyright 2026 The accelctl Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package archive extracts update packages (tar+gzip, tar+xz, zip) and
// probes files for their expected magic bytes before trusting them.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

// magics maps package extensions to their leading signature bytes.
var magics = map[string][]byte{
	".tgz": {0x1F, 0x8B},
	".txz": {0xFD, '7', 'z', 'X', 'Z', 0x00},
	".zip": {'P', 'K'},
}

// HasValidMagic reports whether the file's leading bytes match the
// signature its extension promises. Files with an unknown extension pass;
// a missing file fails.
func HasValidMagic(path string) bool {
	magic, ok := magics[filepath.Ext(path)]
	if !ok {
		_, err := os.Stat(path)
		return err == nil
	}

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, len(magic))
	if _, err := io.ReadFull(f, head); err != nil {
		return false
	}
	return bytes.Equal(head, magic)
}

// Extract unpacks the package into dest according to its extension.
func Extract(pkg, dest string) error {
	switch filepath.Ext(pkg) {
	case ".tgz":
		return extractTar(pkg, dest, decompressGzip)
	case ".txz":
		return extractTar(pkg, dest, decompressXz)
	case ".zip":
		return extractZip(pkg, dest)
	default:
		return fmt.Errorf("unsupported package type: %s", pkg)
	}
}

func decompressGzip(r io.Reader) (io.Reader, error) {
	return gzip.NewReader(r)
}

func decompressXz(r io.Reader) (io.Reader, error) {
	return xz.NewReader(r)
}

func extractTar(pkg, dest string, decompress func(io.Reader) (io.Reader, error)) error {
	f, err := os.Open(pkg)
	if err != nil {
		return err
	}
	defer f.Close()

	dr, err := decompress(f)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(pkg), err)
	}

	tr := tar.NewReader(dr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", filepath.Base(pkg), err)
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)&0o777); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFileFrom(target, tr, os.FileMode(hdr.Mode)&0o777); err != nil {
				return err
			}
		}
	}
}

func extractZip(pkg, dest string) error {
	zr, err := zip.OpenReader(pkg)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(pkg), err)
	}
	defer zr.Close()

	for _, zf := range zr.File {
		target, err := safeJoin(dest, zf.Name)
		if err != nil {
			return err
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return err
		}
		err = writeFileFrom(target, rc, zf.Mode()&0o777)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeFileFrom(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// safeJoin joins name under dest, refusing entries that would escape it.
func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, name)
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry escapes destination: %s", name)
	}
	return target, nil
}

// MakeTgz writes a gzip-compressed tarball of dir's contents (paths
// relative to dir) into outFile.
func MakeTgz(dir, outFile string) error {
	out, err := os.Create(outFile)
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})

	if err := tw.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if err := gw.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	if err := out.Close(); err != nil && walkErr == nil {
		walkErr = err
	}
	return walkErr
}
