package transport

import (
	"fmt"
	"os"
)

// debugEnabled gates the verbose per-packet/per-frame trace used throughout
// this package. It is off by default; set QUIC_DEBUG=1 in the environment to
// enable it. Operational logging (the logrus-backed logger used by the
// dispatch package) is a separate concern from this trace, which exists for
// developing and debugging the transport core itself.
var debugEnabled = os.Getenv("QUIC_DEBUG") != ""

func debug(format string, args ...interface{}) {
	if !debugEnabled {
		return
	}
	fmt.Fprintf(os.Stderr, "quic: "+format+"\n", args...)
}
