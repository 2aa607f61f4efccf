package generator

import (
	"fmt"
	"strings"
)

const upper = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// DeviceCode returns a device identifier of the form
// P<8 digits>#1TF<8 digits>#<6 letters>#.
func (g *Generator) DeviceCode() string {
	var b strings.Builder
	fmt.Fprintf(&b, "P%d#1TF%d#", g.eightDigits(), g.eightDigits())
	for i := 0; i < 6; i++ {
		b.WriteByte(upper[g.rng.Intn(len(upper))])
	}
	b.WriteByte('#')
	return b.String()
}

func (g *Generator) eightDigits() int {
	return 10000000 + g.rng.Intn(90000000)
}

// Choose picks one element of options uniformly. It returns "" for an empty
// slice.
func (g *Generator) Choose(options []string) string {
	if len(options) == 0 {
		return ""
	}
	return options[g.rng.Intn(len(options))]
}
