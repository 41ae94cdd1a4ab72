package domain

import (
	"fmt"
	"regexp"
)

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

func ValidColor(color string) bool {
	return hexColor.MatchString(color)
}

func (d LineDraft) Validate() error {
	if !ValidColor(d.Color) {
		return fmt.Errorf("%w: color %q", ErrInvalidRequest, d.Color)
	}
	if len(d.Points) == 0 {
		return fmt.Errorf("%w: line has no points", ErrInvalidRequest)
	}
	for _, p := range d.Points {
		if p.Pressure != nil && (*p.Pressure < 0 || *p.Pressure > 1) {
			return fmt.Errorf("%w: pressure %v out of range", ErrInvalidRequest, *p.Pressure)
		}
	}
	return nil
}
