package btree

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes every entry in key order, one per line, as key, kind, length
// and a short preview of the inline bytes
func (t *Tree) Dump(w io.Writer) error {
	it := t.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		e, _ := it.Entry()
		if _, err := fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", e.Key, e.Kind, e.Length, preview(e)); err != nil {
			return err
		}
	}
	return it.Err()
}

// DumpTree writes the node structure depth first, one node per line,
// indented by depth
func (t *Tree) DumpTree(w io.Writer) error {
	return t.dumpNode(w, t.root, 0)
}

func (t *Tree) dumpNode(w io.Writer, n *node, depth int) error {
	keys := make([]string, len(n.entries))
	for i, e := range n.entries {
		keys[i] = fmt.Sprint(e.Key)
	}

	line := fmt.Sprintf("%s%s %d [%s]", strings.Repeat("  ", depth), n.kind, n.block, strings.Join(keys, " "))
	if !n.isLeaf() {
		line += fmt.Sprintf(" children=%v", n.children)
	}
	if _, err := fmt.Fprintln(w, line); err != nil {
		return err
	}

	for _, c := range n.children {
		child, err := t.s.readNode(c)
		if err != nil {
			return err
		}
		if err := t.dumpNode(w, child, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func preview(e Entry) string {
	var b []byte
	if e.Kind == EntryComplete {
		b = e.Payload[:e.Length]
	} else {
		b = e.overflowPrefix()
	}

	const limit = 16
	suffix := ""
	if len(b) > limit {
		b, suffix = b[:limit], "..."
	} else if e.Kind == EntryOverflow {
		suffix = "..."
	}
	return fmt.Sprintf("%q%s", b, suffix)
}
