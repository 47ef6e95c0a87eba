// Package gridtools wraps the wgrib2 and grib2json command-line utilities.
package gridtools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"time"

	"github.com/i474232898/wind-grid-service/internal/common"
)

// maxStderr caps how much of a tool's stderr ends up in an error message.
const maxStderr = 2048

// ErrToolFailed is wrapped by every failed invocation.
var ErrToolFailed = errors.New("grid tool failed")

// fatalMarkers flag a failure even when the tool exits zero; wgrib2 does
// this for some bad grids.
var fatalMarkers = []string{"*** FATAL ERROR", "FATAL ERROR:"}

// Run executes name with args, copying stdout to out (if not nil). The
// process is killed when ctx ends.
func Run(ctx context.Context, out io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if out != nil {
		cmd.Stdout = out
	}
	cmd.WaitDelay = 5 * time.Second

	log.Printf("DEBUG: %s %s", name, strings.Join(args, " "))
	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %s: %w", ErrToolFailed, name, ctxErr)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v: %s", ErrToolFailed, name, err, tail(stderr.String()))
	}
	if msg := stderr.String(); common.HasAny(msg, fatalMarkers...) {
		return fmt.Errorf("%w: %s reported: %s", ErrToolFailed, name, tail(msg))
	}
	return nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderr {
		s = "..." + s[len(s)-maxStderr:]
	}
	return s
}
