package cases

// graph is the lifecycle of one kind: an initial status plus out-edges.
// A status with no out-edges is terminal.
type graph struct {
	initial Status
	edges   map[Status][]Status
}

var evidenceGraph = graph{
	initial: StatusPending,
	edges: map[Status][]Status{
		StatusPending:   {StatusApproved, StatusRejected, StatusEscalated},
		StatusApproved:  nil,
		StatusRejected:  nil,
		StatusEscalated: nil,
	},
}

var graphs = map[Kind]graph{
	KindKYC: {
		initial: StatusPending,
		edges: map[Status][]Status{
			StatusPending:     {StatusApproved, StatusRejected, StatusNeedsReview},
			StatusNeedsReview: {StatusApproved, StatusRejected},
			StatusApproved:    nil,
			StatusRejected:    nil,
		},
	},
	KindFraudAlert: {
		initial: StatusOpen,
		edges: map[Status][]Status{
			StatusOpen:          {StatusInvestigating, StatusResolved},
			StatusInvestigating: {StatusResolved, StatusMonitoring},
			StatusMonitoring:    {StatusResolved},
			StatusResolved:      nil,
		},
	},
	KindDispute: {
		initial: StatusOpen,
		edges: map[Status][]Status{
			StatusOpen:          {StatusInvestigating},
			StatusInvestigating: {StatusResolved, StatusEscalated},
			StatusEscalated:     {StatusResolved},
			StatusResolved:      nil,
		},
	},
	KindShippingEvidence: evidenceGraph,
	KindDeliveryEvidence: evidenceGraph,
	KindListing: {
		initial: StatusPending,
		edges: map[Status][]Status{
			StatusPending: {StatusActive, StatusRemoved},
			StatusActive:  {StatusSold, StatusRemoved, StatusFlagged},
			StatusFlagged: {StatusRemoved},
			StatusSold:    nil,
			StatusRemoved: nil,
		},
	},
	KindReview: {
		initial: StatusPending,
		edges: map[Status][]Status{
			StatusPending:  {StatusApproved, StatusFlagged},
			StatusFlagged:  {StatusApproved, StatusRemoved},
			StatusApproved: nil,
			StatusRemoved:  nil,
		},
	},
}

// InitialStatus returns the status a new case of kind k starts in.
func InitialStatus(k Kind) (Status, error) {
	g, ok := graphs[k]
	if !ok {
		return "", ErrUnknownKind
	}
	return g.initial, nil
}

// Statuses returns every status of kind k, initial status first.
func Statuses(k Kind) []Status {
	g, ok := graphs[k]
	if !ok {
		return nil
	}
	out := []Status{g.initial}
	seen := map[Status]bool{g.initial: true}
	// walk edges in declaration order so the result is deterministic
	queue := []Status{g.initial}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.edges[cur] {
			if !seen[next] {
				seen[next] = true
				out = append(out, next)
				queue = append(queue, next)
			}
		}
	}
	return out
}

// Successors returns the direct out-edges of s for kind k.
func Successors(k Kind, s Status) []Status {
	next := graphs[k].edges[s]
	return append([]Status(nil), next...)
}

// IsTerminal reports whether s has no out-edges in kind k's graph.
func IsTerminal(k Kind, s Status) bool {
	g, ok := graphs[k]
	if !ok {
		return false
	}
	next, known := g.edges[s]
	return known && len(next) == 0
}

// IsKnownStatus reports whether s is a node of kind k's graph.
func IsKnownStatus(k Kind, s Status) bool {
	_, ok := graphs[k].edges[s]
	return ok
}

func isEdge(k Kind, from, to Status) bool {
	for _, s := range graphs[k].edges[from] {
		if s == to {
			return true
		}
	}
	return false
}
