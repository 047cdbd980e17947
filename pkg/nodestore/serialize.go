package nodestore

import (
	"sort"
	"strconv"
	"strings"

	"storj.io/nodestore/pkg/revision"
)

// AsString renders the document to its wire form: one line per field,
// sorted by key, each revision-keyed map rendered with its entries in
// descending stable order so the form is deterministic regardless of
// build order (§6.2's serialization contract).
//
// The first line is the document id. Every later line is
// tab-separated and starts with its kind: "s\tkey\tpayload" (scalar),
// "m\tkey\trevision\tvalue" (revision map entry), "p\thigh\tlow,height"
// (previous range) or "x\thigh\theight" (stale-prev marker), joined
// by newlines. This is not meant to be a public wire format for other
// languages to read; it only needs to round-trip through Go.
func (d *Document) AsString() string {
	var b strings.Builder
	b.WriteString(d.id)
	b.WriteByte('\n')

	var scalarKeys []string
	for k := range d.scalars {
		scalarKeys = append(scalarKeys, k)
	}
	sort.Strings(scalarKeys)
	for _, k := range scalarKeys {
		writeScalarLine(&b, k, d.scalars[k])
	}

	var mapKeys []string
	for k := range d.revMaps {
		mapKeys = append(mapKeys, k)
	}
	sort.Strings(mapKeys)
	for _, k := range mapKeys {
		rm := d.revMaps[k]
		for _, e := range rm.Entries() {
			b.WriteString("m\t")
			b.WriteString(k)
			b.WriteByte('\t')
			b.WriteString(e.Rev.String())
			b.WriteByte('\t')
			b.WriteString(escapeValue(e.Value))
			b.WriteByte('\n')
		}
	}

	var prevKeys []revision.Revision
	for high := range d.previous {
		prevKeys = append(prevKeys, high)
	}
	sort.Slice(prevKeys, func(i, j int) bool {
		return revision.CompareStable(prevKeys[i], prevKeys[j]) > 0
	})
	for _, high := range prevKeys {
		rg := d.previous[high]
		b.WriteString("p\t")
		b.WriteString(high.String())
		b.WriteByte('\t')
		b.WriteString(encodeRange(rg))
		b.WriteByte('\n')
		if height, stale := d.stale[high]; stale {
			b.WriteString("x\t")
			b.WriteString(high.String())
			b.WriteByte('\t')
			b.WriteString(strconv.Itoa(height))
			b.WriteByte('\n')
		}
	}

	return b.String()
}

func writeScalarLine(b *strings.Builder, key string, value any) {
	b.WriteString("s\t")
	b.WriteString(key)
	b.WriteByte('\t')
	switch v := value.(type) {
	case bool:
		b.WriteString("b:")
		b.WriteString(boolString(v))
	case int64:
		b.WriteString("i:")
		b.WriteString(strconv.FormatInt(v, 10))
	case int:
		b.WriteString("i:")
		b.WriteString(strconv.Itoa(v))
	case string:
		b.WriteString("s:")
		b.WriteString(escapeValue(v))
	default:
		b.WriteString("s:")
		b.WriteString(escapeValue(v.(string)))
	}
	b.WriteByte('\n')
}

// escapeValue protects the tab/newline-delimited wire form from
// payloads containing those delimiters.
func escapeValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "\t", `\t`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

func unescapeValue(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 't':
				b.WriteByte('\t')
				i++
				continue
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// FromString is the inverse of AsString. It never trusts its input:
// any deviation from the expected shape fails with MalformedDocument
// rather than silently producing a partial document (§7). An _sdType
// that is unknown or contradicts the document's shape fails with
// MalformedSplitType or InconsistentSplitType instead.
func FromString(s string) (*Document, error) {
	lines := strings.Split(s, "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, MalformedDocument.New("empty document")
	}
	id := lines[0]
	b := NewBuilder(id)

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 4)
		switch parts[0] {
		case "s":
			if len(parts) != 3 {
				return nil, MalformedDocument.New("malformed scalar line %q", line)
			}
			val, err := decodeScalar(parts[2])
			if err != nil {
				return nil, MalformedDocument.Wrap(err)
			}
			b.SetScalar(parts[1], val)
		case "m":
			if len(parts) != 4 {
				return nil, MalformedDocument.New("malformed map line %q", line)
			}
			rev, err := revision.Parse(parts[2])
			if err != nil {
				return nil, MalformedDocument.Wrap(err)
			}
			b.PutRevisionEntry(parts[1], rev, unescapeValue(parts[3]))
		case "p":
			if len(parts) != 3 {
				return nil, MalformedDocument.New("malformed previous line %q", line)
			}
			high, err := revision.Parse(parts[1])
			if err != nil {
				return nil, MalformedDocument.Wrap(err)
			}
			rg, err := decodeRange(high, parts[2])
			if err != nil {
				return nil, MalformedDocument.Wrap(err)
			}
			b.SetPrevious(rg)
		case "x":
			if len(parts) != 3 {
				return nil, MalformedDocument.New("malformed stale-prev line %q", line)
			}
			high, err := revision.Parse(parts[1])
			if err != nil {
				return nil, MalformedDocument.Wrap(err)
			}
			height, err := strconv.Atoi(parts[2])
			if err != nil {
				return nil, MalformedDocument.New("bad stale-prev height %q: %v", parts[2], err)
			}
			b.SetStalePrevious(high, height)
		default:
			return nil, MalformedDocument.New("unknown line kind %q", parts[0])
		}
	}

	doc := b.Build()
	if err := checkSplitTypeConsistency(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeScalar(payload string) (any, error) {
	if len(payload) < 2 || payload[1] != ':' {
		return nil, MalformedDocument.New("malformed scalar payload %q", payload)
	}
	switch payload[0] {
	case 'b':
		switch payload[2:] {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, MalformedDocument.New("bad bool scalar %q", payload)
	case 'i':
		n, err := strconv.ParseInt(payload[2:], 10, 64)
		if err != nil {
			return nil, MalformedDocument.New("bad int scalar %q: %v", payload, err)
		}
		return n, nil
	case 's':
		return unescapeValue(payload[2:]), nil
	default:
		return nil, MalformedDocument.New("unknown scalar kind %q", payload)
	}
}
