package entity

import "sort"

// Store is the id-keyed arena that owns every registered entity.
type Store struct {
	byKind [kindCount]map[int]*Entity
	nextID [kindCount]int

	OnInsert func(e *Entity)
	OnRemove func(e *Entity)
}

func NewStore() *Store {
	s := &Store{}
	for i := range s.byKind {
		s.byKind[i] = map[int]*Entity{}
		s.nextID[i] = 1
	}
	return s
}

// Insert assigns the next id for e.Kind and takes ownership of e.
func (s *Store) Insert(e *Entity) (int, bool) {
	if e == nil || !e.Kind.Valid() {
		return 0, false
	}
	id := s.nextID[e.Kind]
	s.nextID[e.Kind]++
	e.ID = id
	s.byKind[e.Kind][id] = e
	if s.OnInsert != nil {
		s.OnInsert(e)
	}
	return id, true
}

func (s *Store) Remove(k Kind, id int) (*Entity, bool) {
	if !k.Valid() {
		return nil, false
	}
	e, ok := s.byKind[k][id]
	if !ok {
		return nil, false
	}
	if s.OnRemove != nil {
		s.OnRemove(e)
	}
	delete(s.byKind[k], id)
	return e, true
}

func (s *Store) Get(k Kind, id int) *Entity {
	if !k.Valid() {
		return nil
	}
	return s.byKind[k][id]
}

func (s *Store) Exists(k Kind, id int) bool { return s.Get(k, id) != nil }

func (s *Store) Len(k Kind) int {
	if !k.Valid() {
		return 0
	}
	return len(s.byKind[k])
}

// IDs returns the live ids of kind k in ascending order.
func (s *Store) IDs(k Kind) []int {
	if !k.Valid() {
		return nil
	}
	ids := make([]int, 0, len(s.byKind[k]))
	for id := range s.byKind[k] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (s *Store) Each(k Kind, fn func(e *Entity)) {
	for _, id := range s.IDs(k) {
		fn(s.byKind[k][id])
	}
}
