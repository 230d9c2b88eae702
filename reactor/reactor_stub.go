//go:build !linux

package reactor

import "github.com/coreflux/routingcore/api"

// New is unavailable off Linux; this runtime targets Linux hosts, same
// as the teacher's primary reactor implementation.
func New() (Reactor, error) {
	return nil, api.ErrNotSupported
}
