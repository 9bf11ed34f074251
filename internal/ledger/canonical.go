package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Canonicalize renders v as deterministic, key-sorted, whitespace-free bytes
// suitable for hashing. It is the sole input to commitmentHash (spec.md
// §3, §4.2) and is a pure data-in -> bytes-out transform: no side effects,
// no time-of-day dependence.
//
// v may be any value encoding/json can marshal (Go structs, maps,
// primitives): normalize round-trips it through json.Marshal into the
// generic map[string]any / []any shape before canonical ordering.
func Canonicalize(v any) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, normalized); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// normalize round-trips v through encoding/json so that Go structs, maps and
// primitives all arrive as the same generic shape (map[string]any,
// []any, json.Number, string, bool, nil) before canonical ordering is
// applied.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal: %w", err)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var out any
	if err := decoder.Decode(&out); err != nil {
		return nil, fmt.Errorf("canonicalize: decode: %w", err)
	}

	return out, nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(shortestDecimal(val))
	case string:
		encoded, err := json.Marshal(val)
		if err != nil {
			return err
		}

		buf.Write(encoded)
	case []any:
		buf.WriteByte('[')

		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}

			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}

		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		buf.WriteByte('{')

		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}

			keyBytes, err := json.Marshal(k)
			if err != nil {
				return err
			}

			buf.Write(keyBytes)
			buf.WriteByte(':')

			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}

		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonicalize: unsupported type %T", v)
	}

	return nil
}

// shortestDecimal renders a json.Number in its shortest round-tripping
// form: values that parse as int64 print as plain integers, other values
// go through strconv's 'g' format (so 1.0 prints as "1"), which uses
// exponent notation for very large or very small magnitudes whatever
// notation the source used.
func shortestDecimal(n json.Number) string {
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		return strconv.FormatInt(i, 10)
	}

	f, err := n.Float64()
	if err != nil {
		return n.String()
	}

	return strconv.FormatFloat(f, 'g', -1, 64)
}
