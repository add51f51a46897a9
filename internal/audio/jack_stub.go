//go:build !jack

package audio

import "fmt"

// NewJackHost reports that JACK support was not compiled in. Build with
// -tags jack to enable it.
func NewJackHost(Options) (Host, error) {
	return nil, fmt.Errorf("%w: rebuild with -tags jack", ErrUnavailable)
}
