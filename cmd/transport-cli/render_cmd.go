package main

import (
	"fmt"
	"os"

	"github.com/iltempo/transportcore/transport"
)

func renderToFile(tr *transport.Transport, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("transport-cli: create %s: %w", path, err)
	}
	defer f.Close()

	result, err := tr.StartRender(f)
	if err != nil {
		return fmt.Errorf("transport-cli: render: %w", err)
	}
	fmt.Printf("rendered %d frames to %s (%d peak samples)\n", result.TotalFrames, path, len(result.Peaks))
	return nil
}
