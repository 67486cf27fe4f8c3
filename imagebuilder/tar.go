package imagebuilder

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// buildContextTar walks root and streams a gzipped tar of its contents to
// the pipe writer, in the shape the Docker daemon expects as an
// ImageBuild context. Run in its own goroutine so the reader half (fed to
// runtime.BuildImage) can start consuming before the whole tree is
// written, the same producer/consumer shape the teacher uses for
// streaming upload bytes through an io.Pipe.
func buildContextTar(root string) (io.ReadCloser, error) {
	pipeReader, pipeWriter := io.Pipe()

	go func() {
		gzipWriter := gzip.NewWriter(pipeWriter)
		tarWriter := tar.NewWriter(gzipWriter)

		err := filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			relPath, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			if relPath == "." {
				return nil
			}

			header, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			header.Name = filepath.ToSlash(relPath)

			if err := tarWriter.WriteHeader(header); err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}

			file, err := os.Open(path)
			if err != nil {
				return err
			}
			defer file.Close()

			_, err = io.Copy(tarWriter, file)
			return err
		})

		if err == nil {
			err = tarWriter.Close()
		}
		if err == nil {
			err = gzipWriter.Close()
		}
		if err != nil {
			pipeWriter.CloseWithError(fmt.Errorf("build tar context for %q: %w", root, err))
			return
		}
		pipeWriter.Close()
	}()

	return pipeReader, nil
}
