package incident

// forwardTransitions is the regular lifecycle graph. Terminal states have
// no outgoing edges; UNVERIFIED reaches its terminal discards only
// through the dedicated triage operations.
var forwardTransitions = map[Status][]Status{
	StatusUnverified: {StatusVerified, StatusFalse, StatusDuplicate},
	StatusVerified:   {StatusAssigned},
	StatusAssigned:   {StatusInProgress},
	StatusInProgress: {StatusResolved},
}

// forwardStep reports whether from -> to is an edge of the regular graph.
func forwardStep(from, to Status) bool {
	for _, next := range forwardTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// overrideStep reports whether from -> to is reachable as a manual status
// override: both ends non-terminal, target a real status, no self-loop.
func overrideStep(from, to Status) bool {
	if !to.Valid() || from.Terminal() || to.Terminal() {
		return false
	}
	return from != to
}

// chainStep reports whether from -> to is one of the two setStatus steps of
// the regular lifecycle. These need only the progress capability; every
// other override needs the admin override capability. Intake and triage
// edges out of UNVERIFIED, and VERIFIED -> ASSIGNED, belong to their
// dedicated operations and never count as chain steps here.
func chainStep(from, to Status) bool {
	if from != StatusAssigned && from != StatusInProgress {
		return false
	}
	return forwardStep(from, to)
}
