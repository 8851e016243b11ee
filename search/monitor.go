package search

import "github.com/poiesic/recall/core"

// Monitor provides hooks to observe the search process.
// Implement this interface to track intermediate steps and results during search.
//
// The engine invokes every hook from the goroutine running the request,
// never from the sub-query goroutines, so implementations need no
// synchronization of their own. Degraded fires once per reduced signal,
// after the sub-queries have joined and before the After callbacks.
type Monitor interface {
	Start(query *Query)
	AfterLexicalSearch(matches []core.Match)
	AfterSemanticSearch(matches []core.Match)
	Degraded(signal string, reason string)
	Finish(hits []Hit)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ *Query)                     {}
func (n *noopMonitor) AfterLexicalSearch(_ []core.Match)  {}
func (n *noopMonitor) AfterSemanticSearch(_ []core.Match) {}
func (n *noopMonitor) Degraded(_ string, _ string)        {}
func (n *noopMonitor) Finish(_ []Hit)                     {}
