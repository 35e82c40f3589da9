//go:build !linux

package source

import (
	"fmt"
	"runtime"

	"github.com/MouseAndKeyboard/tabanywhere/internal/config"
	"github.com/MouseAndKeyboard/tabanywhere/internal/logging"
)

// Only the Linux AT-SPI source ships today. Other platforms fail at startup
// rather than pretending to observe anything.
func newPlatformSource(cfg config.SourceConfig, logger *logging.Logger) (Source, error) {
	return nil, fmt.Errorf("source: no event source available on %s", runtime.GOOS)
}
