// Load JSON test expectations from testdata files.

package coreaffinity_testutils

import (
	"encoding/json"
	"fmt"
	"os"
)

func LoadJsonFile(fileName string, obj any) error {
	f, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := json.NewDecoder(f)
	decoder.DisallowUnknownFields()
	if err = decoder.Decode(obj); err != nil {
		return fmt.Errorf("%s: error decoding into %T: %w", fileName, obj, err)
	}
	return nil
}
