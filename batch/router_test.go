package batch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanfei1991/minionbatch/pkg/eventbus"
)

func TestRouterMatch(t *testing.T) {
	t.Parallel()

	r := NewRouter()
	r.Add(Route{Pattern: eventbus.JobReturnPattern("1"), Class: ClassPresenceAck, JID: "1"})
	r.Add(Route{Pattern: eventbus.JobReturnPattern("2"), Class: ClassJobReturn, JID: "2"})
	r.Add(Route{Pattern: eventbus.JobReturnPattern("3"), Class: ClassFindJobReturn, JID: "3"})
	require.Equal(t, 3, r.Len())

	routes := r.Match(eventbus.JobReturnTag("2", "foo"))
	require.Len(t, routes, 1)
	require.Equal(t, ClassJobReturn, routes[0].Class)
	require.Equal(t, "2", routes[0].JID)

	require.Empty(t, r.Match("salt/job/4/ret/foo"))
	require.Empty(t, r.Match("salt/batch/2/start"))
	require.Empty(t, r.Match(""))

	require.True(t, r.Remove(eventbus.JobReturnPattern("3")))
	require.False(t, r.Remove(eventbus.JobReturnPattern("3")))
	require.Empty(t, r.Match(eventbus.JobReturnTag("3", "foo")))
	require.Equal(t, []string{eventbus.JobReturnPattern("1"), eventbus.JobReturnPattern("2")}, r.Patterns())
}

func TestRouterMatchesAllRoutes(t *testing.T) {
	t.Parallel()

	r := NewRouter()
	r.Add(Route{Pattern: "salt/job/1/ret/*", Class: ClassJobReturn, JID: "1"})
	// a prefix pattern overlapping the first one
	r.Add(Route{Pattern: "salt/job/1*", Class: ClassFindJobReturn, JID: "1x"})
	r.Add(Route{Pattern: "salt/job/1/ret/foo", Class: ClassPresenceAck, JID: "exact"})

	routes := r.Match("salt/job/1/ret/foo")
	require.Len(t, routes, 3)
	classes := []EventClass{routes[0].Class, routes[1].Class, routes[2].Class}
	require.ElementsMatch(t, []EventClass{ClassJobReturn, ClassFindJobReturn, ClassPresenceAck}, classes)

	require.Len(t, r.Match("salt/job/12/ret/foo"), 1)
	require.Equal(t, "presence-ack", ClassPresenceAck.String())
	require.Equal(t, "unknown", EventClass(0).String())
}

func TestNodeSet(t *testing.T) {
	t.Parallel()

	s := newNodeSet("a", "b", "c", "d")
	done := newNodeSet("a")
	active := newNodeSet("b")
	require.Equal(t, []string{"c", "d"}, s.minus(done, active).sorted())
	require.True(t, s.union(newNodeSet("e")).has("e"))
	require.True(t, newNodeSet("a", "b").equal(newNodeSet("b", "a")))
	require.False(t, newNodeSet("a").equal(newNodeSet("b")))
	require.Len(t, s.take(2), 2)
	require.Len(t, s.take(10), 4)
	require.Len(t, s.take(0), 0)
	require.Len(t, s.take(-1), 0)

	s.removeAll(newNodeSet("a", "b"))
	s.remove("c")
	require.Equal(t, []string{"d"}, s.sorted())
	require.Equal(t, []string{}, newNodeSet().sorted())
}
