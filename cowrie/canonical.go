package cowrie

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Canonicalize serializes a parsed payload with lexicographically sorted
// keys and no insignificant whitespace, so that semantically identical
// payloads hash identically regardless of how the source file formatted
// them.
func Canonicalize(m map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	if err := canonValue(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PayloadHash returns the hex SHA-256 of the canonical form.
func PayloadHash(m map[string]any) (string, error) {
	b, err := Canonicalize(m)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func canonValue(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(t))
	case string:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
	case float64:
		// encoding/json's shortest-representation formatting keeps
		// integral values free of exponents for anything Cowrie emits.
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
	case json.Number:
		buf.WriteString(t.String())
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := canonValue(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := canonValue(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("cowrie: cannot canonicalize value of type %T", v)
	}
	return nil
}
