// Package clipboard copies rendered contexts to the system clipboard.
package clipboard

import (
	"errors"

	"github.com/atotto/clipboard"
)

// ErrUnsupported is returned when no clipboard utility is available on the host.
var ErrUnsupported = errors.New("system clipboard is not available")

// Copier copies textual data to the system clipboard.
type Copier interface {
	Copy(text string) error
}

// Service implements Copier using github.com/atotto/clipboard.
type Service struct {
	write       func(text string) error
	unsupported bool
}

// NewService returns a Service bound to the host clipboard.
func NewService() *Service {
	return &Service{write: clipboard.WriteAll, unsupported: clipboard.Unsupported}
}

// Copy writes text to the clipboard. Headless hosts without xclip, xsel or
// wl-clipboard report ErrUnsupported instead of the utility's exec error.
func (service *Service) Copy(text string) error {
	if service.unsupported {
		return ErrUnsupported
	}
	return service.write(text)
}

var _ Copier = (*Service)(nil)
