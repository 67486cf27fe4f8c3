package imagebuilder

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Extract unpacks an uploaded bundle archive into destinationDirectory,
// dispatching on file extension. Every extracted path is validated to
// stay within destinationDirectory before anything is written to disk,
// guarding against a zip-slip/tar-slip archive entry containing ".."
// components.
func Extract(archivePath, destinationDirectory string) error {
	if err := os.MkdirAll(destinationDirectory, 0755); err != nil {
		return fmt.Errorf("create extraction directory %q: %w", destinationDirectory, err)
	}

	lower := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return extractZip(archivePath, destinationDirectory)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return extractTar(archivePath, destinationDirectory, true)
	case strings.HasSuffix(lower, ".tar"):
		return extractTar(archivePath, destinationDirectory, false)
	default:
		return fmt.Errorf("unsupported archive extension for %q", archivePath)
	}
}

func extractZip(archivePath, destinationDirectory string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open zip archive %q: %w", archivePath, err)
	}
	defer reader.Close()

	for _, entry := range reader.File {
		destPath, err := safeJoin(destinationDirectory, entry.Name)
		if err != nil {
			return fmt.Errorf("extract entry %q: %w", entry.Name, err)
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0755); err != nil {
				return fmt.Errorf("create directory %q: %w", destPath, err)
			}
			continue
		}

		if err := writeZipEntry(entry, destPath); err != nil {
			return fmt.Errorf("extract entry %q: %w", entry.Name, err)
		}
	}
	return nil
}

func writeZipEntry(entry *zip.File, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create parent directory for %q: %w", destPath, err)
	}

	source, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open zip entry: %w", err)
	}
	defer source.Close()

	mode := entry.Mode()
	if mode == 0 {
		mode = 0644
	}

	destination, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create destination file %q: %w", destPath, err)
	}
	defer destination.Close()

	if _, err := io.Copy(destination, source); err != nil {
		return fmt.Errorf("write entry content to disk: %w", err)
	}
	return nil
}

func extractTar(archivePath, destinationDirectory string, gzipped bool) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open tar archive %q: %w", archivePath, err)
	}
	defer file.Close()

	var reader io.Reader = file
	if gzipped {
		gzipReader, err := gzip.NewReader(file)
		if err != nil {
			return fmt.Errorf("open gzip stream for %q: %w", archivePath, err)
		}
		defer gzipReader.Close()
		reader = gzipReader
	}

	tarReader := tar.NewReader(reader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		destPath, err := safeJoin(destinationDirectory, header.Name)
		if err != nil {
			return fmt.Errorf("extract entry %q: %w", header.Name, err)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, 0755); err != nil {
				return fmt.Errorf("create directory %q: %w", destPath, err)
			}
		case tar.TypeReg:
			if err := writeTarEntry(tarReader, destPath, os.FileMode(header.Mode)); err != nil {
				return fmt.Errorf("extract entry %q: %w", header.Name, err)
			}
		default:
			// symlinks, hardlinks, devices: a bundle never legitimately
			// needs these, skip rather than follow them onto the host.
			continue
		}
	}
}

func writeTarEntry(reader io.Reader, destPath string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create parent directory for %q: %w", destPath, err)
	}
	if mode == 0 {
		mode = 0644
	}

	destination, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create destination file %q: %w", destPath, err)
	}
	defer destination.Close()

	if _, err := io.Copy(destination, reader); err != nil {
		return fmt.Errorf("write entry content to disk: %w", err)
	}
	return nil
}

// safeJoin joins destinationDirectory with an archive-relative entry
// name and rejects the result if it resolves outside
// destinationDirectory, the same zip-slip guard whether the entry came
// from a zip or a tar archive.
func safeJoin(destinationDirectory, entryName string) (string, error) {
	entryDestPath := filepath.Join(destinationDirectory, entryName)

	safePrefix := filepath.Clean(destinationDirectory) + string(os.PathSeparator)
	cleaned := filepath.Clean(entryDestPath) + string(os.PathSeparator)
	if !strings.HasPrefix(cleaned, safePrefix) {
		return "", fmt.Errorf("entry %q would write outside destination directory", entryName)
	}
	return entryDestPath, nil
}
