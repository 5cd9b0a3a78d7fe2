package batch

// StartEvent is fired on salt/batch/<jid>/start once the window is
// resolved.
type StartEvent struct {
	AvailableMinions []string    `json:"available_minions"`
	DownMinions      []string    `json:"down_minions"`
	Metadata         interface{} `json:"metadata"`
}

// DoneEvent is fired on salt/batch/<jid>/done once every available
// minion is done or timed out.
type DoneEvent struct {
	AvailableMinions []string    `json:"available_minions"`
	DownMinions      []string    `json:"down_minions"`
	DoneMinions      []string    `json:"done_minions"`
	TimedoutMinions  []string    `json:"timedout_minions"`
	Metadata         interface{} `json:"metadata"`
}
