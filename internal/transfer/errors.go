package transfer

import (
	"fmt"

	"github.com/danmuck/imglink/internal/protocol"
)

// TransferFailedError reports a terminal sender-side failure.
// Delivered frames 0..Delivered-1 were acknowledged before the failure.
type TransferFailedError struct {
	TransferID  string
	Destination protocol.Endpoint
	Seq         uint32
	Attempts    int
	Delivered   int
	Total       int
	Err         error
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf(
		"transfer %s to %s failed at frame %d after %d attempts (%d of %d frames delivered): %v",
		e.TransferID, e.Destination, e.Seq, e.Attempts, e.Delivered, e.Total, e.Err,
	)
}

func (e *TransferFailedError) Unwrap() error {
	return e.Err
}
