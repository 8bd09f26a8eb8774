package supervisor

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapio"

	"github.com/GriffinCanCode/browserbox/internal/infrastructure/logging"
)

// openOutput resolves a stdout/stderr target. The returned closer releases
// files and flushes partial log lines; it is never nil.
func openOutput(target string, log *logging.Logger, stream string) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch target {
	case OutputDiscard:
		return nil, noop, nil
	case OutputInherit:
		if stream == "stderr" {
			return os.Stderr, noop, nil
		}
		return os.Stdout, noop, nil
	case OutputLog, "":
		level := zap.InfoLevel
		if stream == "stderr" {
			level = zap.WarnLevel
		}
		w := &zapio.Writer{Log: log.With(zap.String("stream", stream)), Level: level}
		return w, w.Close, nil
	default:
		f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, noop, fmt.Errorf("opening %s target: %w", stream, err)
		}
		return f, f.Close, nil
	}
}
