// Package archive packages job output directories into verifiable zips.
package archive

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// hashChunkSize bounds memory while hashing: archives can be far larger
// than we want to hold in one allocation.
const hashChunkSize = 32 * 1024

// ZipAndVerify archives dir into "<dir>.zip", preserving relative paths
// with deflate compression, and returns the archive path plus a SHA-256
// digest of the archive bytes. The uncompressed directory is removed only
// after the archive is fully written and hashed; any earlier failure
// leaves it untouched.
func ZipAndVerify(dir string) (string, string, error) {
	if _, err := os.Stat(dir); err != nil {
		return "", "", fmt.Errorf("stat output directory: %w", err)
	}

	archivePath := dir + ".zip"
	if err := writeZip(dir, archivePath); err != nil {
		// Don't leave a partial archive next to intact output.
		_ = os.Remove(archivePath)
		return "", "", err
	}

	hash, err := HashFile(archivePath)
	if err != nil {
		return "", "", err
	}

	if err := os.RemoveAll(dir); err != nil {
		return "", "", fmt.Errorf("remove packaged directory: %w", err)
	}
	return archivePath, hash, nil
}

func writeZip(dir, archivePath string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	zw := zip.NewWriter(out)

	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", path, err)
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return fmt.Errorf("add %s to archive: %w", rel, err)
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		if _, err := io.Copy(w, f); err != nil {
			return fmt.Errorf("compress %s: %w", rel, err)
		}
		return nil
	})
	if walkErr != nil {
		_ = zw.Close()
		_ = out.Close()
		return fmt.Errorf("archive %s: %w", dir, walkErr)
	}
	if err := zw.Close(); err != nil {
		_ = out.Close()
		return fmt.Errorf("finalize archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return nil
}

// HashFile streams a SHA-256 digest over the file in fixed-size chunks.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open archive for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("hash archive: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
