package idf

import (
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jittakal/kafrowstore/pkg/idf"
	"github.com/jittakal/kafrowstore/pkg/schema"
)

// isQuoted reports whether fields of the type are wrapped in single quotes.
func isQuoted(t schema.Type) bool {
	switch t {
	case schema.TypeFixedPoint, schema.TypeFloatingPoint, schema.TypeDecimal, schema.TypeBit:
		return false
	default:
		return true
	}
}

func isNullToken(token string) bool {
	return len(token) == len(idf.NullValue) && strings.EqualFold(token, idf.NullValue)
}

// isNullValue treats nil interfaces and nil pointers, slices and maps as null.
func isNullValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func typeError(col *schema.Column, token, reason string, err error) error {
	return &idf.TypeError{Column: col.Name, Token: token, Reason: reason, Err: err}
}

func unsupportedValue(col *schema.Column, v any) error {
	return typeError(col, fmt.Sprint(v), fmt.Sprintf("unsupported value of type %T for %s column", v, col.Type), nil)
}

// decodeField converts one top-level field token into a value.
func decodeField(col *schema.Column, token string) (any, error) {
	if isNullToken(token) {
		return nil, nil
	}
	if !isQuoted(col.Type) {
		return parseScalar(col, token)
	}

	raw, ok := unquote(token)
	if !ok {
		return nil, typeError(col, token, "expected a single-quoted field", nil)
	}
	if col.Type.IsCompound() {
		return decodeCompound(col, raw)
	}
	return parseScalar(col, raw)
}

// encodeField converts one value into its top-level field token.
func encodeField(col *schema.Column, v any) (string, error) {
	if isNullValue(v) {
		return idf.NullValue, nil
	}
	if col.Type.IsCompound() {
		payload, err := encodeCompound(col, v)
		if err != nil {
			return "", err
		}
		return quote(escape(payload)), nil
	}

	raw, err := formatScalar(col, v)
	if err != nil {
		return "", err
	}
	if isQuoted(col.Type) {
		return quote(escape(raw)), nil
	}
	return raw, nil
}

// parseScalar converts the unquoted, unescaped text of a scalar.
func parseScalar(col *schema.Column, raw string) (any, error) {
	switch col.Type {
	case schema.TypeFixedPoint:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, typeError(col, raw, "invalid integer", err)
		}
		return n, nil

	case schema.TypeFloatingPoint:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, typeError(col, raw, "invalid floating point number", err)
		}
		return f, nil

	case schema.TypeDecimal:
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, typeError(col, raw, "invalid decimal", err)
		}
		return d, nil

	case schema.TypeText, schema.TypeEnum, schema.TypeUnknown:
		return raw, nil

	case schema.TypeBinary:
		b, err := hex.DecodeString(raw)
		if err != nil {
			return nil, typeError(col, raw, "invalid hex byte sequence", err)
		}
		return b, nil

	case schema.TypeBit:
		b, ok := parseBit(raw)
		if !ok {
			return nil, typeError(col, raw, "invalid bit literal", nil)
		}
		return b, nil

	case schema.TypeDate:
		return parseDate(col, raw)
	case schema.TypeTime:
		return parseTime(col, raw)
	case schema.TypeDateTime:
		return parseDateTime(col, raw)
	}
	return nil, typeError(col, raw, fmt.Sprintf("%s is not a scalar type", col.Type), nil)
}

// formatScalar renders a scalar value as unquoted, unescaped text.
func formatScalar(col *schema.Column, v any) (string, error) {
	switch col.Type {
	case schema.TypeFixedPoint:
		n, ok := toInt64(v)
		if !ok {
			return "", unsupportedValue(col, v)
		}
		return strconv.FormatInt(n, 10), nil

	case schema.TypeFloatingPoint:
		f, ok := toFloat64(v)
		if !ok {
			return "", unsupportedValue(col, v)
		}
		return formatFloat(f), nil

	case schema.TypeDecimal:
		d, err := toDecimal(col, v)
		if err != nil {
			return "", err
		}
		return formatDecimal(d), nil

	case schema.TypeText, schema.TypeEnum, schema.TypeUnknown:
		switch s := v.(type) {
		case string:
			return s, nil
		case fmt.Stringer:
			return s.String(), nil
		}
		return "", unsupportedValue(col, v)

	case schema.TypeBinary:
		b, ok := v.([]byte)
		if !ok {
			return "", unsupportedValue(col, v)
		}
		return hex.EncodeToString(b), nil

	case schema.TypeBit:
		switch b := v.(type) {
		case bool:
			return strconv.FormatBool(b), nil
		case string:
			parsed, ok := parseBit(b)
			if !ok {
				return "", typeError(col, b, "invalid bit literal", nil)
			}
			return strconv.FormatBool(parsed), nil
		}
		return "", unsupportedValue(col, v)

	case schema.TypeDate:
		return formatDate(col, v)
	case schema.TypeTime:
		return formatTime(col, v)
	case schema.TypeDateTime:
		return formatDateTime(col, v)
	}
	return "", typeError(col, fmt.Sprint(v), fmt.Sprintf("%s is not a scalar type", col.Type), nil)
}

func parseBit(s string) (bool, bool) {
	switch {
	case s == "1" || strings.EqualFold(s, "true"):
		return true, true
	case s == "0" || strings.EqualFold(s, "false"):
		return false, true
	}
	return false, false
}

// formatDecimal keeps the scale of the value, so 12.3400 stays 12.3400.
func formatDecimal(d decimal.Decimal) string {
	if exp := d.Exponent(); exp < 0 {
		return d.StringFixed(-exp)
	}
	return d.String()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	}
	if n, ok := toInt64(v); ok {
		return float64(n), true
	}
	return 0, false
}

func toDecimal(col *schema.Column, v any) (decimal.Decimal, error) {
	switch d := v.(type) {
	case decimal.Decimal:
		return d, nil
	case *decimal.Decimal:
		return *d, nil
	case float64:
		if math.IsNaN(d) || math.IsInf(d, 0) {
			return decimal.Decimal{}, typeError(col, formatFloat(d), "non-finite decimal", nil)
		}
		return decimal.NewFromFloat(d), nil
	case float32:
		if math.IsNaN(float64(d)) || math.IsInf(float64(d), 0) {
			return decimal.Decimal{}, typeError(col, formatFloat(float64(d)), "non-finite decimal", nil)
		}
		return decimal.NewFromFloat32(d), nil
	case *big.Int:
		return decimal.NewFromBigInt(d, 0), nil
	case string:
		parsed, err := decimal.NewFromString(d)
		if err != nil {
			return decimal.Decimal{}, typeError(col, d, "invalid decimal", err)
		}
		return parsed, nil
	}
	if n, ok := toInt64(v); ok {
		return decimal.NewFromInt(n), nil
	}
	return decimal.Decimal{}, unsupportedValue(col, v)
}
