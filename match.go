package virtops

// WantsDeletion reports whether desired asks for the entity not to exist:
// it is absent or explicitly marked deleted. Both forms take the same path.
func WantsDeletion(desired *Record) bool {
	return desired == nil || desired.Status == StatusDeleted
}

// Gone reports whether current stands for an entity that does not exist.
func Gone(current *Record) bool {
	return current == nil || current.Status == StatusDeleted
}

// MatchStates reports whether current already satisfies desired. Every field
// present in desired, status included, must have an equal value in current;
// fields only current carries are ignored and a field missing from current is
// a mismatch. Nested values are compared whole. A deletion request matches a
// current that is absent or deleted.
func MatchStates(current, desired *Record) bool {
	if WantsDeletion(desired) {
		return Gone(current)
	}
	if current == nil {
		return false
	}
	if effective(current.Status) != effective(desired.Status) {
		return false
	}
	for k, want := range desired.Fields {
		got, ok := current.Fields[k]
		if !ok || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

func effective(s Status) Status {
	if s == 0 {
		return StatusActive
	}
	return s
}
