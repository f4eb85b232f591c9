package logging

import (
	"fmt"
	"io"
	"log"
	"strings"
)

// Component builds a logger with the shared prefix convention:
// [relaywing/<name>][<env>][<LEVEL>]. All packages log through these so grep
// on the component tag finds every line.
func Component(out io.Writer, name, env, level string) *log.Logger {
	tag := strings.ToUpper(strings.TrimSpace(level))
	if tag == "" {
		tag = "INFO"
	}
	prefix := fmt.Sprintf("[relaywing/%s][%s][%s] ", name, env, tag)
	return log.New(out, prefix, log.LstdFlags|log.Lmicroseconds)
}
