package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/beevik/etree"
)

// WriteResultFile writes e as an indented XML document, replacing path
func WriteResultFile(path string, e *etree.Element) error {
	if e == nil {
		return fmt.Errorf("no result to write")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create result directory: %w", err)
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	doc.SetRoot(e.Copy())
	doc.Indent(2)

	tmp := path + ".tmp"
	if err := doc.WriteToFile(tmp); err != nil {
		return fmt.Errorf("failed to write result file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace result file: %w", err)
	}
	return nil
}
