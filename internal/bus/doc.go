// Package bus defines the message shapes and collaborator contracts that flow
// through the dispatch kernel.
//
// An Input produces Messages on a channel; the kernel queues them, asks the
// Agent for a reply, and routes the resulting Response to the Output
// registered for the message's source. The kernel owns lifecycle (Start/Stop)
// for all three collaborator kinds.
package bus
