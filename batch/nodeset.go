package batch

import "sort"

// nodeSet is a set of minion ids. It is only touched from the event
// loop and needs no locking.
type nodeSet map[string]struct{}

func newNodeSet(ids ...string) nodeSet {
	s := make(nodeSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s nodeSet) add(ids ...string) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

func (s nodeSet) addAll(o nodeSet) {
	for id := range o {
		s[id] = struct{}{}
	}
}

func (s nodeSet) remove(id string) {
	delete(s, id)
}

func (s nodeSet) removeAll(o nodeSet) {
	for id := range o {
		delete(s, id)
	}
}

func (s nodeSet) has(id string) bool {
	_, ok := s[id]
	return ok
}

// minus returns the ids of s absent from every set of others.
func (s nodeSet) minus(others ...nodeSet) nodeSet {
	ret := make(nodeSet, len(s))
outer:
	for id := range s {
		for _, o := range others {
			if o.has(id) {
				continue outer
			}
		}
		ret[id] = struct{}{}
	}
	return ret
}

func (s nodeSet) union(o nodeSet) nodeSet {
	ret := make(nodeSet, len(s)+len(o))
	ret.addAll(s)
	ret.addAll(o)
	return ret
}

func (s nodeSet) equal(o nodeSet) bool {
	if len(s) != len(o) {
		return false
	}
	for id := range s {
		if !o.has(id) {
			return false
		}
	}
	return true
}

// take returns at most n ids of s, in no particular order.
func (s nodeSet) take(n int) nodeSet {
	ret := make(nodeSet)
	if n <= 0 {
		return ret
	}
	for id := range s {
		ret[id] = struct{}{}
		if len(ret) == n {
			break
		}
	}
	return ret
}

func (s nodeSet) sorted() []string {
	ret := make([]string, 0, len(s))
	for id := range s {
		ret = append(ret, id)
	}
	sort.Strings(ret)
	return ret
}
