package gsusb

import "time"

// SetBackoffs shortens the fixed delays for tests and returns a restore func.
func SetBackoffs(discovery, receive time.Duration) func() {
	prevDiscovery, prevReceive := discoveryBackoff, receiveBackoff
	discoveryBackoff, receiveBackoff = discovery, receive
	return func() {
		discoveryBackoff, receiveBackoff = prevDiscovery, prevReceive
	}
}
