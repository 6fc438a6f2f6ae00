package testcase

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
)

// WriteArchive writes the bundle as a zstd-compressed tar stream. The
// archive carries entry order and the required flag in PAX records so a
// round trip preserves the bundle exactly.
func (tc *TestCase) WriteArchive(w io.Writer) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("testcase: zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	for _, e := range tc.entries {
		hdr := &tar.Header{
			Name:    e.Path,
			Mode:    0644,
			Size:    int64(len(e.Data)),
			ModTime: time.Unix(0, 0),
			Format:  tar.FormatPAX,
			PAXRecords: map[string]string{
				"GRIZZLY.required": boolStr(e.Required),
			},
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("testcase: archive %s: %w", e.Path, err)
		}
		if _, err := tw.Write(e.Data); err != nil {
			return fmt.Errorf("testcase: archive %s: %w", e.Path, err)
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return zw.Close()
}

// ReadArchive reads a bundle previously written with WriteArchive.
func ReadArchive(r io.Reader, entryPoint string, timeLimit time.Duration) (*TestCase, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("testcase: zstd reader: %w", err)
	}
	defer zr.Close()

	tc := New(entryPoint, timeLimit)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("testcase: read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("testcase: read archive %s: %w", hdr.Name, err)
		}
		required := hdr.PAXRecords["GRIZZLY.required"] != "0"
		if err := tc.Add(hdr.Name, data, required); err != nil {
			return nil, err
		}
	}

	if err := tc.Validate(); err != nil {
		return nil, err
	}
	return tc, nil
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
