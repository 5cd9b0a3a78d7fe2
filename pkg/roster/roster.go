package roster

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	derrors "github.com/hanfei1991/minionbatch/pkg/errors"
	"github.com/hanfei1991/minionbatch/pkg/eventbus"
)

// TargetType selects how a target expression is matched against minion ids.
type TargetType string

// Supported target types
const (
	TargetGlob      TargetType = "glob"
	TargetPCRE      TargetType = "pcre"
	TargetList      TargetType = "list"
	TargetNodegroup TargetType = "nodegroup"
)

// ParseTargetType returns the TargetType named by s. An empty string
// means glob.
func ParseTargetType(s string) (TargetType, error) {
	switch tp := TargetType(strings.ToLower(s)); tp {
	case "":
		return TargetGlob, nil
	case TargetGlob, TargetPCRE, TargetList, TargetNodegroup:
		return tp, nil
	default:
		return "", derrors.ErrInvalidTargetType.GenWithStackByArgs(s)
	}
}

// Entry is what the roster knows about one minion.
type Entry struct {
	ID   string            `json:"id"`
	Host string            `json:"host,omitempty"`
	Data map[string]string `json:"data,omitempty"`
}

// Roster is the set of known minions.
type Roster struct {
	mu         sync.RWMutex
	minions    map[string]*Entry
	nodegroups map[string][]string
}

// New creates a Roster. nodegroups maps a group name to a list of
// minion ids, each element may itself be a comma separated list.
func New(nodegroups map[string][]string) *Roster {
	groups := make(map[string][]string, len(nodegroups))
	for name, members := range nodegroups {
		groups[name] = splitList(members...)
	}
	return &Roster{
		minions:    make(map[string]*Entry),
		nodegroups: groups,
	}
}

// Register adds or replaces a minion.
func (r *Roster) Register(entry Entry) {
	if entry.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.minions[entry.ID] = &entry
}

// Remove drops a minion.
func (r *Roster) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.minions, id)
}

// Get returns the entry of id.
func (r *Roster) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.minions[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// IDs returns all known minion ids, sorted.
func (r *Roster) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.minions))
	for id := range r.minions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Targets returns the sorted ids of known minions matched by expr.
func (r *Roster) Targets(tp TargetType, expr string, list []string) ([]string, error) {
	filter, err := r.filter(tp, expr, list)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make([]string, 0)
	for id := range r.minions {
		if filter(id) {
			ret = append(ret, id)
		}
	}
	sort.Strings(ret)
	return ret, nil
}

func (r *Roster) filter(tp TargetType, expr string, list []string) (func(string) bool, error) {
	switch tp {
	case TargetGlob, "":
		if !doublestar.ValidatePattern(expr) {
			return nil, derrors.ErrInvalidTargetExpr.GenWithStackByArgs(expr)
		}
		return func(id string) bool {
			ok, err := doublestar.Match(expr, id)
			return err == nil && ok
		}, nil
	case TargetPCRE:
		// anchored at the start only
		re, err := regexp.Compile("^(?:" + expr + ")")
		if err != nil {
			return nil, derrors.WrapError(derrors.ErrInvalidTargetExpr, err, expr)
		}
		return re.MatchString, nil
	case TargetList:
		return setFilter(splitList(append([]string{expr}, list...)...)), nil
	case TargetNodegroup:
		r.mu.RLock()
		members, ok := r.nodegroups[expr]
		r.mu.RUnlock()
		if !ok {
			return nil, derrors.ErrUnknownNodegroup.GenWithStackByArgs(expr)
		}
		return setFilter(members), nil
	default:
		return nil, derrors.ErrInvalidTargetType.GenWithStackByArgs(string(tp))
	}
}

func setFilter(ids []string) func(string) bool {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(id string) bool {
		_, ok := set[id]
		return ok
	}
}

func splitList(items ...string) []string {
	var ret []string
	for _, item := range items {
		for _, id := range strings.Split(item, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ret = append(ret, id)
			}
		}
	}
	return ret
}

// Track registers every minion that announces itself on ev until ev is
// closed. Track installs its own handler, so ev must not be shared.
func (r *Roster) Track(ev eventbus.Event) error {
	ev.SetHandler(func(msg *eventbus.Message) {
		id, ok := eventbus.ParseMinionStartTag(msg.Tag)
		if !ok {
			return
		}
		entry := Entry{}
		if err := eventbus.Unpack(msg, &entry); err != nil {
			log.L().Warn("minion start event is malformed", zap.String("tag", msg.Tag), zap.Error(err))
		}
		entry.ID = id
		r.Register(entry)
		log.L().Info("minion registered", zap.String("minion-id", id))
	})
	return ev.Subscribe(eventbus.MinionStartPattern())
}
