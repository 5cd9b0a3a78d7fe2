package eventbus

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	derrors "github.com/hanfei1991/minionbatch/pkg/errors"
)

func TestMatchTag(t *testing.T) {
	t.Parallel()

	cases := []struct {
		pattern string
		tag     string
		match   bool
	}{
		{"salt/job/1/ret/*", "salt/job/1/ret/foo", true},
		{"salt/job/1/ret/*", "salt/job/1/ret/foo/bar", true},
		{"salt/job/1/ret/*", "salt/job/12/ret/foo", false},
		{"salt/batch/*", "salt/batch/1/start", true},
		{"salt/job/*/new", "salt/job/1/new", true},
		{"salt/job/*/new", "salt/job/1/ret/foo", false},
		{"salt/minion/*/start", "salt/minion/web1/start", true},
		{"salt/minion/*/start", "salt/minion/a/b/start", false},
		{"salt/job/1/new", "salt/job/1/new", true},
		{"salt/job/1/new", "salt/job/1/new2", false},
		{"salt/job/{1,2}/new", "salt/job/2/new", true},
	}
	for _, c := range cases {
		require.Equal(t, c.match, MatchTag(c.pattern, c.tag), "pattern %s tag %s", c.pattern, c.tag)
	}
}

func TestValidatePattern(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidatePattern("salt/job/*/ret/*"))
	err := ValidatePattern("")
	require.True(t, derrors.ErrInvalidPattern.Equal(err))
	err = ValidatePattern("salt/job/[")
	require.True(t, derrors.ErrInvalidPattern.Equal(err))
}

func TestTagHelpers(t *testing.T) {
	t.Parallel()

	jid, id, ok := ParseJobReturnTag(JobReturnTag("20211207084639123456", "web1"))
	require.True(t, ok)
	require.Equal(t, "20211207084639123456", jid)
	require.Equal(t, "web1", id)

	_, _, ok = ParseJobReturnTag("salt/job/1/new")
	require.False(t, ok)
	_, _, ok = ParseJobReturnTag("salt/batch/1/ret/x")
	require.False(t, ok)

	jid, ok = ParseJobNewTag(JobNewTag("42"))
	require.True(t, ok)
	require.Equal(t, "42", jid)
	_, ok = ParseJobNewTag("salt/job/42/ret/a")
	require.False(t, ok)

	id, ok = ParseMinionStartTag(MinionStartTag("db2"))
	require.True(t, ok)
	require.Equal(t, "db2", id)
	_, ok = ParseMinionStartTag("salt/minion//start")
	require.False(t, ok)

	require.True(t, MatchTag(JobReturnPattern("7"), JobReturnTag("7", "x")))
	require.True(t, MatchTag(BatchPattern(), BatchDoneTag("7")))
	require.True(t, MatchTag(JobNewPattern(), JobNewTag("7")))
	require.True(t, MatchTag(MinionStartPattern(), MinionStartTag("x")))
}

func TestPackUnpack(t *testing.T) {
	t.Parallel()

	raw, err := Pack(map[string]int{"a": 1})
	require.NoError(t, err)
	require.JSONEq(t, `{"a":1}`, string(raw))

	raw, err = Pack(nil)
	require.NoError(t, err)
	require.Equal(t, "{}", string(raw))

	raw, err = Pack([]byte(`{"b":2}`))
	require.NoError(t, err)
	require.Equal(t, json.RawMessage(`{"b":2}`), raw)

	var out map[string]int
	require.NoError(t, Unpack(&Message{Tag: "t", Data: raw}, &out))
	require.Equal(t, 2, out["b"])

	err = Unpack(&Message{Tag: "t", Data: json.RawMessage(`{`)}, &out)
	require.True(t, derrors.ErrMalformedEvent.Equal(err))
}
