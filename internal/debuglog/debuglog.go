// Package debuglog prints verbose traces for the analysis pipeline and the
// worker pool when PULSE_DEBUG is set to 1 or true.
package debuglog

import (
	"log"
	"os"
	"strings"
)

var enabled = parseSwitch(os.Getenv("PULSE_DEBUG"))

func parseSwitch(v string) bool {
	v = strings.TrimSpace(v)
	return v == "1" || strings.EqualFold(v, "true")
}

func Printf(format string, args ...interface{}) {
	if enabled {
		log.Printf(format, args...)
	}
}
