package well

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// GPIO reads a float switch wired to a local GPIO line. High means water.
type GPIO struct {
	line *gpiocdev.Line
}

// NewGPIO requests the line as an input.
func NewGPIO(chip string, offset int) (*GPIO, error) {
	if chip == "" {
		chip = "gpiochip0"
	}
	l, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsInput)
	if err != nil {
		return nil, fmt.Errorf("requesting well sensor %s:%d: %w", chip, offset, err)
	}
	return &GPIO{line: l}, nil
}

// WaterOK reads the line.
func (g *GPIO) WaterOK() (bool, error) {
	v, err := g.line.Value()
	if err != nil {
		return false, fmt.Errorf("reading well sensor: %w", err)
	}
	return v == 1, nil
}

// Close releases the line.
func (g *GPIO) Close() error {
	return g.line.Close()
}
