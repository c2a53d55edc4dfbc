package topic

// MatchFilter reports whether an MQTT 3.1.1 topic filter matches a
// concrete topic name: `+` consumes exactly one `/`-separated level, `#`
// consumes every remaining level (including zero), and a topic whose
// first level starts with `$` is never matched by a filter whose first
// level is a wildcard (section 4.7.2). The walk is a two-pointer scan
// over both strings; nothing is split or allocated.
func MatchFilter(filter, topic string) bool {
	if len(filter) == 0 || len(topic) == 0 {
		return false
	}

	// System topics hide from root-level wildcards: "#" and "+/..." skip
	// "$SYS/...", while "$SYS/#" still works.
	if topic[0] == '$' && (filter[0] == '#' || filter[0] == '+') {
		return false
	}

	fi, ti := 0, 0
	for {
		fEnd := levelEnd(filter, fi)
		tEnd := levelEnd(topic, ti)
		fLevel := filter[fi:fEnd]

		if fLevel == "#" {
			// "#" must be the last filter level to be valid; a validated
			// filter guarantees it, and it swallows the rest of the topic.
			return fEnd == len(filter)
		}

		if fLevel != "+" && fLevel != topic[ti:tEnd] {
			return false
		}

		fDone := fEnd == len(filter)
		tDone := tEnd == len(topic)
		switch {
		case fDone && tDone:
			return true
		case fDone:
			// Topic has more levels; only a trailing "/#" could still
			// match, and we just consumed the last filter level.
			return false
		case tDone:
			// Filter has more levels: only "a/b/#" matching "a/b".
			return filter[fEnd+1:] == "#"
		}

		fi, ti = fEnd+1, tEnd+1
	}
}

// levelEnd returns the index one past the level starting at from.
func levelEnd(s string, from int) int {
	for i := from; i < len(s); i++ {
		if s[i] == '/' {
			return i
		}
	}
	return len(s)
}
