package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/klauspost/compress/zip"
)

type archiveWriter struct {
	buf bytes.Buffer
	zw  *zip.Writer
}

func newArchiveWriter() *archiveWriter {
	w := &archiveWriter{}
	w.zw = zip.NewWriter(&w.buf)
	return w
}

func (w *archiveWriter) add(name string, data []byte) error {
	// Audio is already compressed
	method := zip.Deflate
	if ext := path.Ext(name); ext != ".svg" && ext != ".json" {
		method = zip.Store
	}
	f, err := w.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   method,
		Modified: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to add %s to archive: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("failed to write %s to archive: %w", name, err)
	}
	return nil
}

func (w *archiveWriter) addJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	return w.add(name, data)
}

func (w *archiveWriter) close() ([]byte, error) {
	if err := w.zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	return w.buf.Bytes(), nil
}
