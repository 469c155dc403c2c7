package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// mountTransporter copies a file from a locally-mounted view of the
// backend's download directory, used when the operator has mounted
// the remote filesystem (NFS, sshfs, bind mount) at backend.mount_path.
type mountTransporter struct{}

func (t *mountTransporter) Transfer(ctx context.Context, src, dest string, size int64, progress func(done int64)) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating destination %s: %w", dest, err)
	}
	defer out.Close()

	if err := copyWithProgress(ctx, out, in, progress); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dest, err)
	}
	return out.Sync()
}

// copyWithProgress mirrors io.Copy but checks ctx and reports bytes
// moved so far after every chunk.
func copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, progress func(done int64)) error {
	buf := make([]byte, 256*1024)
	var done int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return err
			}
			done += int64(n)
			if progress != nil {
				progress(done)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}
