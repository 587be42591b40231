package agrimesh

import "github.com/ecobloom/agrimesh/message"

// cmdKind enumerates the operations the Mesh façade may ask the run loop to
// perform on its behalf, since links, known peers, the router, and the
// seen-set are exclusively owned by that one goroutine (spec.md §5).
type cmdKind int

const (
	cmdSubmit cmdKind = iota
	cmdBroadcast
	cmdOn
	cmdSnapshot
)

// command is a single request queued onto node.commands and drained by
// run()'s select loop. done is closed by handleCommand once the request has
// been applied, so the caller's goroutine can block on it without the run
// loop needing a reply channel per call site.
type command struct {
	kind    cmdKind
	msg     *message.Message
	msgType message.Type
	handler Handler

	snapshot Snapshot
	err      error
	done     chan struct{}
}

// handleCommand applies one command. It only ever runs on the run loop
// goroutine.
func (n *node) handleCommand(cmd *command) {
	defer close(cmd.done)

	switch cmd.kind {
	case cmdSubmit:
		cmd.err = n.submit(cmd.msg)
	case cmdBroadcast:
		n.broadcastOriginated(cmd.msg)
	case cmdOn:
		n.handlers[cmd.msgType] = cmd.handler
	case cmdSnapshot:
		cmd.snapshot = n.buildSnapshot()
	}
}
