package idf

import (
	"github.com/jittakal/kafrowstore/pkg/idf"
	"github.com/jittakal/kafrowstore/pkg/schema"
)

// FormatValue renders one value as unquoted, unescaped text: the scalar text
// for scalars and the bracketed payload for compounds. Nulls render as NULL.
func FormatValue(col *schema.Column, v any) (string, error) {
	if isNullValue(v) {
		return idf.NullValue, nil
	}
	if col.Type.IsCompound() {
		return encodeCompound(col, v)
	}
	return formatScalar(col, v)
}

// ToJSON converts a value into a JSON-ready node. Integers and decimals
// become json.Number, Bit becomes bool, other scalars become their text and
// nested lists stay nested arrays.
func ToJSON(col *schema.Column, v any) (any, error) {
	return encodeNode(col, v, false)
}

// FromJSON converts a node decoded with json.Decoder.UseNumber into a value
// of col. It accepts everything ToJSON produces.
func FromJSON(col *schema.Column, node any) (any, error) {
	return decodeNode(col, node)
}
