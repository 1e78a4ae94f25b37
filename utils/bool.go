package utils

// BoolToYesNo renders a flag for CLI tables: "Yes" for true, "No" for false.
func BoolToYesNo(value bool) string {
	if value {
		return "Yes"
	}

	return "No"
}
