package comms

// setDifference returns the members of lhs missing from rhs, without
// duplicates and in lhs order.
func setDifference(lhs []string, rhs []string) []string {
	right := make(map[string]struct{}, len(rhs))
	for _, item := range rhs {
		right[item] = struct{}{}
	}
	seen := map[string]struct{}{}
	var result []string
	for _, item := range lhs {
		if _, gone := right[item]; gone {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		result = append(result, item)
	}
	return result
}
