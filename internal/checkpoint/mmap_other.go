//go:build !unix

package checkpoint

import (
	"errors"
	"os"
)

var errNoMmap = errors.New("checkpoint: mmap unsupported on this platform")

func mmapFile(*os.File, int) ([]byte, func() error, error) {
	return nil, nil, errNoMmap
}
