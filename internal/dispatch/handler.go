package dispatch

import "github.com/fund3/omega-go/internal/protocol"

// Handler is the caller-supplied capability set for unsolicited traffic.
// The dispatcher invokes exactly one method per unsolicited envelope; kinds
// this client does not know about land on OnUnknown.
type Handler interface {
	// OnFill receives pushed execution reports.
	OnFill(env protocol.Envelope)

	// OnSystemEvent receives counterparty system notices.
	OnSystemEvent(env protocol.Envelope)

	// OnUnknown receives every unsolicited kind without a dedicated method.
	OnUnknown(env protocol.Envelope)
}

// NopHandler implements Handler with no-ops. Embed it to pick only the
// callbacks an application cares about.
type NopHandler struct{}

func (NopHandler) OnFill(protocol.Envelope)        {}
func (NopHandler) OnSystemEvent(protocol.Envelope) {}
func (NopHandler) OnUnknown(protocol.Envelope)     {}
