package domain

// Slugify converts a name to a form safe for use in image and container names.
//
// Lowercase letters, digits and hyphens pass through, uppercase letters are
// lowered, spaces become hyphens, everything else is dropped.
func Slugify(name string) string {
	slug := ""
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			slug += string(r)
		} else if r >= 'A' && r <= 'Z' {
			slug += string(r + 32)
		} else if r == ' ' {
			slug += "-"
		}
	}
	return slug
}
