//go:build !linux

package sensors

import (
	"fmt"
	"os"
)

func openSerial(path string, baud int) (*os.File, error) {
	return nil, fmt.Errorf("sonde serial not supported on this platform")
}
