package iojson

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

// FileReader reads JSON input from the file named by its flag, or from stdin.
type FileReader[T any] struct {
	fileFlagValue string
	stdin         io.Reader
}

func (fr *FileReader[T]) Flag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:        "file",
		Aliases:     []string{"f"},
		Usage:       "path to JSON file (reads from stdin if not provided)",
		Destination: &fr.fileFlagValue,
	}
}

// Read decodes a single T.
func (fr *FileReader[T]) Read() (T, error) {
	var input T

	reader, closer, err := fr.open()
	if err != nil {
		return input, err
	}
	defer closer()

	if err := json.NewDecoder(reader).Decode(&input); err != nil {
		return input, fmt.Errorf("decode JSON: %w", err)
	}

	return input, nil
}

// ReadAll decodes either a JSON array of T or a stream of T values, one
// after another.
func (fr *FileReader[T]) ReadAll() ([]T, error) {
	reader, closer, err := fr.open()
	if err != nil {
		return nil, err
	}
	defer closer()

	return DecodeAll[T](reader)
}

func (fr *FileReader[T]) open() (io.Reader, func(), error) {
	if fr.fileFlagValue != "" {
		f, err := os.Open(fr.fileFlagValue)
		if err != nil {
			return nil, nil, fmt.Errorf("open file: %w", err)
		}
		return f, func() { _ = f.Close() }, nil
	}

	if fr.stdin != nil {
		return fr.stdin, func() {}, nil
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, nil, fmt.Errorf("no input provided (stdin is a terminal); use -f flag or pipe JSON input")
	}
	return os.Stdin, func() {}, nil
}

// DecodeAll reads every JSON value from r. A single top-level array is
// flattened into its elements.
func DecodeAll[T any](r io.Reader) ([]T, error) {
	dec := json.NewDecoder(r)

	var values []json.RawMessage
	for {
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode JSON value %d: %w", len(values)+1, err)
		}
		values = append(values, raw)
	}

	if len(values) == 1 && bytes.HasPrefix(bytes.TrimSpace(values[0]), []byte("[")) {
		var out []T
		if err := json.Unmarshal(values[0], &out); err != nil {
			return nil, fmt.Errorf("decode JSON array: %w", err)
		}
		return out, nil
	}

	out := make([]T, 0, len(values))
	for i, raw := range values {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode JSON value %d: %w", i+1, err)
		}
		out = append(out, v)
	}
	return out, nil
}
