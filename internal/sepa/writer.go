package sepa

import (
	"bytes"
	"encoding/xml"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/iurnickita/homecare/internal/sepa/config"
)

const indent = "  "

// Marshal - UTF-8 XML с декларацией, с отступами
func Marshal(doc *Document) ([]byte, error) {
	body, err := xml.MarshalIndent(doc, "", indent)
	if err != nil {
		return nil, errors.Wrap(err, "marshal sepa document")
	}

	var buffer bytes.Buffer
	buffer.WriteString(xml.Header)
	buffer.Write(body)
	buffer.WriteString("\n")
	return buffer.Bytes(), nil
}

type Writer struct {
	cfg config.Config
}

func NewWriter(cfg config.Config) *Writer {
	return &Writer{cfg: cfg}
}

// Write пишет документ в <OutputDir>/<MsgId>.xml и возвращает путь.
// Файл появляется под итоговым именем только целиком (запись во временный + rename)
func (w *Writer) Write(doc *Document) (string, error) {
	data, err := Marshal(doc)
	if err != nil {
		return "", err
	}

	if err = os.MkdirAll(w.cfg.OutputDir, 0o750); err != nil {
		return "", errors.Wrap(err, "create sepa output dir")
	}

	path := filepath.Join(w.cfg.OutputDir, doc.MessageID()+".xml")
	tmp, err := os.CreateTemp(w.cfg.OutputDir, ".sepa-*.xml")
	if err != nil {
		return "", errors.Wrap(err, "create sepa file")
	}
	defer os.Remove(tmp.Name())

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return "", errors.Wrap(err, "write sepa file")
	}
	if err = tmp.Close(); err != nil {
		return "", errors.Wrap(err, "close sepa file")
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return "", errors.Wrap(err, "rename sepa file")
	}
	return path, nil
}
