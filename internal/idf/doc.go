// Package idf implements the CSV intermediate data format: a single-line,
// comma-separated textual row and its typed value row, converted against a
// schema.
//
// Textual grammar:
//
//	NULL                      null field, any column type
//	42, -1.5e3, 12.3400       FixedPoint, FloatingPoint, Decimal (bare)
//	true, false               Bit (bare; decode also accepts TRUE, FALSE, 1, 0)
//	'it\'s'                   Text, Enum, Unknown (quoted, backslash-escaped)
//	'00ff10'                  Binary as hex pairs
//	'2014-10-01'              Date
//	'12:00:00.000000'         Time, six fraction digits when enabled
//	'2014-10-01 12:00:00.001-0400'
//	                          DateTime, three fraction digits and an offset
//	'[1,2]'                   Array and Set
//	'["[11, 12]","[14, 15]"]' Array of arrays, inner lists flattened to strings
//	'{"k":"v"}'               Map with string keys
//
// Converter is the entry point. It implements the DataFormat contract from
// pkg/idf.
package idf
