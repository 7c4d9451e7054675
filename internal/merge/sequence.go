package merge

// sequence is the ordered, deduplicated message list for one room.
// Entries are sorted by CreatedAt ascending; ties keep insertion order.
// Not safe for concurrent use; the Merger serializes access per room.
type sequence struct {
	entries []Message
	ids     map[string]struct{}
}

func newSequence() *sequence {
	return &sequence{ids: make(map[string]struct{})}
}

// insert adds the message at its sorted position. Inserting an id that is
// already present is a no-op merge, not an append. Returns true if added.
func (s *sequence) insert(m Message) bool {
	if _, dup := s.ids[m.ID]; dup {
		return false
	}

	pos := len(s.entries)
	for pos > 0 && s.entries[pos-1].CreatedAt.After(m.CreatedAt) {
		pos--
	}

	s.entries = append(s.entries, Message{})
	copy(s.entries[pos+1:], s.entries[pos:])
	s.entries[pos] = m
	s.ids[m.ID] = struct{}{}
	return true
}

// replace swaps the entry with oldID for m in the same position.
// Returns false if oldID is not present or m.ID already exists elsewhere.
func (s *sequence) replace(oldID string, m Message) bool {
	if _, exists := s.ids[oldID]; !exists {
		return false
	}
	if _, dup := s.ids[m.ID]; dup && m.ID != oldID {
		// Server copy already arrived through another path; drop the stale one.
		s.remove(oldID)
		return true
	}
	for i := range s.entries {
		if s.entries[i].ID == oldID {
			s.entries[i] = m
			delete(s.ids, oldID)
			s.ids[m.ID] = struct{}{}
			return true
		}
	}
	return false
}

func (s *sequence) remove(id string) bool {
	if _, exists := s.ids[id]; !exists {
		return false
	}
	for i := range s.entries {
		if s.entries[i].ID == id {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			delete(s.ids, id)
			return true
		}
	}
	return false
}

func (s *sequence) contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// snapshot returns a copy of the ordered entries.
func (s *sequence) snapshot() []Message {
	out := make([]Message, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *sequence) len() int {
	return len(s.entries)
}
