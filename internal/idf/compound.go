package idf

import (
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"

	"github.com/jittakal/kafrowstore/pkg/schema"
)

const nestedSeparator = ", "

// decodeCompound parses the unquoted payload of an Array, Set or Map field.
func decodeCompound(col *schema.Column, raw string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var node any
	if err := dec.Decode(&node); err != nil {
		return nil, typeError(col, raw, "invalid compound literal", err)
	}
	var trailing any
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return nil, typeError(col, raw, "unexpected data after compound literal", err)
	}
	if node == nil {
		return nil, typeError(col, raw, "compound literal is null", nil)
	}
	return decodeNode(col, node)
}

// decodeNode converts one decoded JSON node into the value of col.
func decodeNode(col *schema.Column, node any) (any, error) {
	switch x := node.(type) {
	case nil:
		return nil, nil

	case []any:
		if !col.Type.IsList() {
			return nil, typeError(col, fmt.Sprint(x), fmt.Sprintf("array literal for %s column", col.Type), nil)
		}
		out := make([]any, len(x))
		for i, item := range x {
			v, err := decodeNode(col.Element, item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case map[string]any:
		if col.Type != schema.TypeMap {
			return nil, typeError(col, fmt.Sprint(x), fmt.Sprintf("object literal for %s column", col.Type), nil)
		}
		out := make(map[string]any, len(x))
		for k, item := range x {
			key, err := parseScalar(col.Key, k)
			if err != nil {
				return nil, err
			}
			v, err := decodeNode(col.Value, item)
			if err != nil {
				return nil, err
			}
			out[key.(string)] = v
		}
		return out, nil

	case string:
		switch {
		case col.Type.IsList():
			return decodeFlatList(col, x)
		case col.Type == schema.TypeMap:
			return nil, typeError(col, x, "string literal for map column", nil)
		}
		return parseScalar(col, x)

	case json.Number:
		if col.Type.IsCompound() {
			return nil, typeError(col, x.String(), fmt.Sprintf("number literal for %s column", col.Type), nil)
		}
		return parseScalar(col, x.String())

	case bool:
		if col.Type != schema.TypeBit {
			return nil, typeError(col, fmt.Sprint(x), fmt.Sprintf("boolean literal for %s column", col.Type), nil)
		}
		return x, nil
	}
	return nil, typeError(col, fmt.Sprint(node), fmt.Sprintf("unexpected %T literal", node), nil)
}

// decodeFlatList parses the flattened "[a, b]" form of a nested list.
func decodeFlatList(col *schema.Column, s string) (any, error) {
	body := strings.TrimSpace(s)
	if len(body) < 2 || body[0] != '[' || body[len(body)-1] != ']' {
		return nil, typeError(col, s, "nested list must be enclosed in brackets", nil)
	}
	body = strings.TrimSpace(body[1 : len(body)-1])
	if body == "" {
		return []any{}, nil
	}

	parts := strings.Split(body, ",")
	out := make([]any, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if isNullToken(p) {
			continue
		}
		v, err := parseScalar(col.Element, p)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// encodeCompound renders an Array, Set or Map value as its unquoted payload.
// Text elements and map keys must be valid UTF-8; unlike top-level Text they
// travel as JSON strings.
func encodeCompound(col *schema.Column, v any) (string, error) {
	node, err := encodeNode(col, v, true)
	if err != nil {
		return "", err
	}
	b, err := json.MarshalNoEscape(node)
	if err != nil {
		return "", typeError(col, fmt.Sprint(v), "cannot render compound value", err)
	}
	return string(b), nil
}

// encodeNode converts a value of col into a node ready for JSON marshalling.
// With flatten set, list elements that are lists themselves become flattened
// strings; otherwise they stay JSON arrays.
func encodeNode(col *schema.Column, v any, flatten bool) (any, error) {
	if isNullValue(v) {
		return nil, nil
	}

	switch {
	case col.Type.IsList():
		items, ok := listItems(v)
		if !ok {
			return nil, unsupportedValue(col, v)
		}
		out := make([]any, len(items))
		for i, item := range items {
			var (
				node any
				err  error
			)
			if flatten && col.Element.Type.IsList() && !isNullValue(item) {
				node, err = flattenList(col.Element, item)
			} else {
				node, err = encodeNode(col.Element, item, flatten)
			}
			if err != nil {
				return nil, err
			}
			out[i] = node
		}
		return out, nil

	case col.Type == schema.TypeMap:
		entries, ok := mapEntries(v)
		if !ok {
			return nil, unsupportedValue(col, v)
		}
		out := make(map[string]any, len(entries))
		for k, item := range entries {
			key, err := formatScalar(col.Key, k)
			if err != nil {
				return nil, err
			}
			if err := checkUTF8(col.Key, key); err != nil {
				return nil, err
			}
			node, err := encodeNode(col.Value, item, flatten)
			if err != nil {
				return nil, err
			}
			out[key] = node
		}
		return out, nil
	}

	s, err := formatScalar(col, v)
	if err != nil {
		return nil, err
	}
	switch col.Type {
	case schema.TypeFixedPoint, schema.TypeDecimal:
		return json.Number(s), nil
	case schema.TypeFloatingPoint:
		if f, _ := toFloat64(v); math.IsNaN(f) || math.IsInf(f, 0) {
			return s, nil
		}
		return json.Number(s), nil
	case schema.TypeBit:
		return s == "true", nil
	}
	if err := checkUTF8(col, s); err != nil {
		return nil, err
	}
	return s, nil
}

// checkUTF8 guards strings headed into JSON, which would replace invalid
// bytes with U+FFFD.
func checkUTF8(col *schema.Column, s string) error {
	if !utf8.ValidString(s) {
		return typeError(col, s, "text inside a compound value must be valid UTF-8", nil)
	}
	return nil
}

// flattenList prints a nested list as "[a, b]" using scalar text for each
// element and NULL for nulls.
func flattenList(col *schema.Column, v any) (string, error) {
	items, ok := listItems(v)
	if !ok {
		return "", unsupportedValue(col, v)
	}
	parts := make([]string, len(items))
	for i, item := range items {
		if isNullValue(item) {
			parts[i] = "NULL"
			continue
		}
		s, err := formatScalar(col.Element, item)
		if err != nil {
			return "", err
		}
		if err := checkUTF8(col.Element, s); err != nil {
			return "", err
		}
		parts[i] = s
	}
	return "[" + strings.Join(parts, nestedSeparator) + "]", nil
}

// listItems accepts any slice or array value.
func listItems(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

// mapEntries accepts any map keyed by a string kind.
func mapEntries(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}
