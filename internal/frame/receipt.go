package frame

import (
	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/stomp"
)

// NewReceiptFrame acknowledges the request that carried receipt token id.
func NewReceiptFrame(id string) stomp.Frame {
	return stomp.NewFrame(stomp.RECEIPT, nil, stomp.HeaderReceiptID, id)
}

// Receipt returns the RECEIPT owed for request, if it asked for one.
// Callers invoke it only after the request's effect has been applied.
func Receipt(request stomp.Frame) (stomp.Frame, bool) {
	id, ok := request.Header(stomp.HeaderReceipt)
	if !ok {
		return stomp.Frame{}, false
	}
	return NewReceiptFrame(id), true
}
