package eventbus

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	derrors "github.com/hanfei1991/minionbatch/pkg/errors"
)

const (
	jobTagPrefix    = "salt/job/"
	batchTagPrefix  = "salt/batch/"
	minionTagPrefix = "salt/minion/"
)

// JobNewTag is the tag a job is published under.
func JobNewTag(jid string) string {
	return fmt.Sprintf("%s%s/new", jobTagPrefix, jid)
}

// JobNewPattern matches every published job.
func JobNewPattern() string {
	return jobTagPrefix + "*/new"
}

// JobReturnTag is the tag minion id answers job jid under.
func JobReturnTag(jid, id string) string {
	return fmt.Sprintf("%s%s/ret/%s", jobTagPrefix, jid, id)
}

// JobReturnPattern matches every return of job jid.
func JobReturnPattern(jid string) string {
	return fmt.Sprintf("%s%s/ret/*", jobTagPrefix, jid)
}

// ParseJobReturnTag splits a return tag into job id and minion id.
func ParseJobReturnTag(tag string) (jid, id string, ok bool) {
	if !strings.HasPrefix(tag, jobTagPrefix) {
		return "", "", false
	}
	parts := strings.Split(tag[len(jobTagPrefix):], "/")
	if len(parts) != 3 || parts[1] != "ret" || parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}

// ParseJobNewTag extracts the job id of a publish tag.
func ParseJobNewTag(tag string) (jid string, ok bool) {
	if !strings.HasPrefix(tag, jobTagPrefix) {
		return "", false
	}
	parts := strings.Split(tag[len(jobTagPrefix):], "/")
	if len(parts) != 2 || parts[1] != "new" || parts[0] == "" {
		return "", false
	}
	return parts[0], true
}

// BatchStartTag is fired once a batch run has resolved its window.
func BatchStartTag(batchJID string) string {
	return batchTagPrefix + batchJID + "/start"
}

// BatchDoneTag is fired once every minion of a batch run is accounted for.
func BatchDoneTag(batchJID string) string {
	return batchTagPrefix + batchJID + "/done"
}

// BatchPattern matches every batch lifecycle event.
func BatchPattern() string {
	return batchTagPrefix + "*"
}

// MinionStartTag is fired by a minion when it comes up.
func MinionStartTag(id string) string {
	return minionTagPrefix + id + "/start"
}

// MinionStartPattern matches every minion start event.
func MinionStartPattern() string {
	return minionTagPrefix + "*/start"
}

// ParseMinionStartTag extracts the minion id of a start tag.
func ParseMinionStartTag(tag string) (id string, ok bool) {
	if !strings.HasPrefix(tag, minionTagPrefix) || !strings.HasSuffix(tag, "/start") {
		return "", false
	}
	id = strings.TrimSuffix(tag[len(minionTagPrefix):], "/start")
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// ValidatePattern reports whether pattern can be used for subscriptions.
func ValidatePattern(pattern string) error {
	if pattern == "" || !doublestar.ValidatePattern(pattern) {
		return derrors.ErrInvalidPattern.GenWithStackByArgs(pattern)
	}
	return nil
}

// MatchTag reports whether tag matches pattern. A pattern whose only
// wildcard is a trailing '*' matches every tag sharing its prefix,
// separators included. Other patterns are matched as globs where '*'
// stops at '/'.
func MatchTag(pattern, tag string) bool {
	if isPrefixPattern(pattern) {
		return strings.HasPrefix(tag, pattern[:len(pattern)-1])
	}
	matched, err := doublestar.Match(pattern, tag)
	return err == nil && matched
}

func isPrefixPattern(pattern string) bool {
	if !strings.HasSuffix(pattern, "*") {
		return false
	}
	return !strings.ContainsAny(pattern[:len(pattern)-1], "*?[{\\")
}
