// Command idfconv converts rows between IDF text and JSON lines.
//
// Rows are read from stdin one per line and written to stdout. The schema is
// taken from the schema section of a kafrowstore config file. Blank lines are
// skipped.
package main

import (
	"bufio"
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/jittakal/kafrowstore/internal/config"
	"github.com/jittakal/kafrowstore/internal/idf"
	"github.com/jittakal/kafrowstore/internal/observability"
	pkgidf "github.com/jittakal/kafrowstore/pkg/idf"
	"github.com/jittakal/kafrowstore/pkg/schema"
)

// Direction selects the conversion.
type Direction string

const (
	ToJSON Direction = "json"
	ToIDF  Direction = "idf"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		log.Fatalf("idfconv: %v", err)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("idfconv", flag.ContinueOnError)
	fs.SetOutput(stderr)
	schemaPath := fs.String("schema", "", "config file holding the schema section")
	to := fs.String("to", string(ToJSON), "output format: json or idf")
	level := fs.String("log-level", "warn", "log level")
	strict := fs.Bool("strict", false, "stop at the first invalid row")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *schemaPath == "" {
		return errors.New("-schema is required")
	}
	direction := Direction(*to)
	if direction != ToJSON && direction != ToIDF {
		return fmt.Errorf("unsupported output format %q", *to)
	}

	logger := observability.NewLoggerTo(stderr, observability.LoggingConfig{Level: *level, Format: "text"})

	s, err := config.NewLoader().LoadSchema(*schemaPath)
	if err != nil {
		return err
	}

	out := bufio.NewWriter(stdout)
	defer out.Flush()

	conv, err := NewConverter(s, direction, logger)
	if err != nil {
		return err
	}
	conv.Strict = *strict

	stats, err := conv.Convert(stdin, out)
	logger.Info("conversion finished", "rows", stats.Rows, "failed", stats.Failed)
	if err != nil {
		return err
	}
	if stats.Failed > 0 {
		return fmt.Errorf("%d of %d rows failed", stats.Failed, stats.Rows)
	}
	return nil
}

// Stats counts converted lines.
type Stats struct {
	Rows   int
	Failed int
}

// Converter converts a stream of rows in one direction.
type Converter struct {
	Strict bool

	schema    *schema.Schema
	direction Direction
	format    *idf.Converter
	logger    *slog.Logger
}

// NewConverter binds a row converter to s.
func NewConverter(s *schema.Schema, direction Direction, logger *slog.Logger) (*Converter, error) {
	format := idf.NewConverter()
	if err := format.BindSchema(s); err != nil {
		return nil, err
	}
	return &Converter{
		schema:    s,
		direction: direction,
		format:    format,
		logger:    logger,
	}, nil
}

// Convert reads lines from r and writes one converted line per input row.
// Invalid rows are logged and skipped unless Strict is set.
func (c *Converter) Convert(r io.Reader, w io.Writer) (Stats, error) {
	var stats Stats
	reader := bufio.NewReader(r)

	for lineNo := 1; ; lineNo++ {
		line, readErr := reader.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return stats, fmt.Errorf("failed to read input: %w", readErr)
		}
		line = strings.TrimRight(line, "\r\n")

		if line != "" {
			stats.Rows++
			converted, err := c.convertLine(line)
			if err != nil {
				stats.Failed++
				c.logger.Warn("invalid row", "line", lineNo, "class", pkgidf.Class(err), "error", err)
				if c.Strict {
					return stats, fmt.Errorf("line %d: %w", lineNo, err)
				}
			} else if _, err := io.WriteString(w, converted+"\n"); err != nil {
				return stats, fmt.Errorf("failed to write output: %w", err)
			}
		}

		if errors.Is(readErr, io.EOF) {
			return stats, nil
		}
	}
}

func (c *Converter) convertLine(line string) (string, error) {
	if c.direction == ToJSON {
		return c.textToJSON(line)
	}
	return c.jsonToText(line)
}

func (c *Converter) textToJSON(line string) (string, error) {
	c.format.SetText(&line)
	values, err := c.format.Values()
	if err != nil {
		return "", err
	}

	// Objects keep column order, so they are assembled by hand.
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range c.schema.Columns {
		node, err := idf.ToJSON(col, values[i])
		if err != nil {
			return "", err
		}
		key, err := json.Marshal(col.Name)
		if err != nil {
			return "", err
		}
		value, err := json.Marshal(node)
		if err != nil {
			return "", err
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.String(), nil
}

func (c *Converter) jsonToText(line string) (string, error) {
	dec := json.NewDecoder(strings.NewReader(line))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return "", &pkgidf.ParseError{Pos: -1, Reason: "invalid JSON object: " + err.Error()}
	}
	if obj == nil {
		return "", &pkgidf.ParseError{Pos: -1, Reason: "null row has no text form"}
	}

	values := make([]any, c.schema.Len())
	seen := 0
	for i, col := range c.schema.Columns {
		node, ok := obj[col.Name]
		if !ok {
			continue
		}
		seen++
		v, err := idf.FromJSON(col, node)
		if err != nil {
			return "", err
		}
		values[i] = v
	}
	if seen != len(obj) {
		return "", &pkgidf.SchemaError{Reason: fmt.Sprintf("object has %d fields not in schema %s", len(obj)-seen, c.schema.Name)}
	}

	c.format.SetValues(values)
	text, err := c.format.Text()
	if err != nil {
		return "", err
	}
	return *text, nil
}
