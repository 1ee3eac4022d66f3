package client

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/iSoldLeo/DynamicAPI/pkg/apierr"
)

// Download executes a download operation and streams the body to destination,
// creating parent directories and replacing any existing file. An empty
// destination selects a file in os.TempDir named after the last path segment.
// It returns the path written.
func (c *Client) Download(ctx context.Context, name string, values map[string]any, destination string) (string, error) {
	call := c.begin(ctx, name, "download start")

	op, err := c.resolver.Resolve(name)
	if err != nil {
		return "", call.fail(err)
	}
	if !op.IsDownload() {
		return "", call.fail(apierr.Configuration("Operation '%s' is not configured as a download task", name))
	}
	t, err := c.build(ctx, op, values, destination)
	if err != nil {
		return "", call.fail(err)
	}
	call.target(t)

	resp, err := c.roundTrip(ctx, t, call)
	if err != nil {
		return "", call.fail(err)
	}
	defer resp.Body.Close()

	dest := t.Task.Destination
	n, err := writeFile(dest, resp.Body)
	if err != nil {
		return "", call.fail(err)
	}
	call.size = n
	c.logger.Info("download finished", zap.String("operation", name), zap.String("path", dest), zap.Int64("bytes", n))
	call.done()
	return dest, nil
}

// writeFile copies r into a temporary file next to dest and renames it over
// dest once complete.
func writeFile(dest string, r io.Reader) (int64, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, apierr.Unknown(err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*")
	if err != nil {
		return 0, apierr.Unknown(err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return 0, apierr.Network("failed to read response body", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, apierr.Unknown(err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, apierr.Unknown(err)
	}
	return n, nil
}
