package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/loopwire/podcore/pkg/log"
)

// eachEvent calls fn for every event in path that passes filter, stopping at
// the first error.
func eachEvent(path string, filter log.Filter, fn func(log.Event) error) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}
