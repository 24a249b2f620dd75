package btreeindex

import (
	"fmt"
	"strings"

	"github.com/SimonWaldherr/btreeindex/internal/fileinfo"
)

// InspectYAML renders the file's metadata (File Info fields, the schema,
// and the tokenizer descriptor) as a YAML document for diagnostics. The
// on-disk form is always the binary layout; this is a projection of it.
func (f *File) InspectYAML() (string, error) {
	fi := f.nodeStore.FileInfo()

	var b strings.Builder
	fmt.Fprintf(&b, "instance_id: %s\n", f.instance)
	fmt.Fprintf(&b, "page_size: %d\n", fi.PageSize())
	fmt.Fprintf(&b, "root_page_id: %d\n", fi.RootPageID)
	fmt.Fprintf(&b, "tree_depth: %d\n", fi.TreeDepth)
	fmt.Fprintf(&b, "first_leaf_page_id: %d\n", fi.FirstLeafPageID)
	fmt.Fprintf(&b, "last_leaf_page_id: %d\n", fi.LastLeafPageID)
	fmt.Fprintf(&b, "record_count: %d\n", fi.RecordCount)
	fmt.Fprintf(&b, "key_mode: %d\n", f.tree.KeyMode())

	schemaYAML, err := fileinfo.MarshalSchemaYAML(&f.schema)
	if err != nil {
		return "", err
	}
	b.WriteString("schema:\n")
	b.WriteString(indent(string(schemaYAML), "  "))

	if f.tok != nil {
		descYAML, err := f.tok.Descriptor().MarshalYAMLBytes()
		if err != nil {
			return "", err
		}
		b.WriteString("tokenizer:\n")
		b.WriteString(indent(string(descYAML), "  "))
	}
	return b.String(), nil
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n") + "\n"
}
