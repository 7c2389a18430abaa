package topology

// Matches reports whether every "key=value" entry in selector is present in
// labels. An empty selector matches any label set. The test is pure string
// membership; no operator or wildcard semantics.
func Matches(labels, selector []string) bool {
	if len(selector) == 0 {
		return true
	}
	if len(selector) > len(labels) {
		return false
	}
	set := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		set[label] = struct{}{}
	}
	for _, want := range selector {
		if _, ok := set[want]; !ok {
			return false
		}
	}
	return true
}
