package util

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// WriteJSON writes data as indented JSON with stable key ordering, which
// is the report file contract.
func WriteJSON(fn string, data interface{}) error {
	out, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return errors.Wrap(err, "problem writing data")
	}

	f, err := os.Create(fn)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	return errors.WithStack(writeBytes(f, out))
}

// PrintJSON renders data as indented JSON on stdout.
func PrintJSON(data interface{}) error {
	out, err := json.MarshalIndent(data, "", "    ")
	if err != nil {
		return errors.Wrap(err, "problem writing data")
	}

	fmt.Println(string(out))
	return nil
}

func writeBytes(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		return errors.WithStack(err)
	}

	if _, err := f.WriteString("\n"); err != nil {
		return errors.WithStack(err)
	}

	if err := f.Sync(); err != nil {
		return err
	}

	return nil
}
