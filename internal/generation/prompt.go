package generation

import (
	"fmt"
	"strings"
)

// BuildPrompt returns the edit instruction for a style and gender
func BuildPrompt(style, gender string) string {
	style = strings.TrimSpace(style)

	subject := "the person"
	switch strings.ToLower(strings.TrimSpace(gender)) {
	case "male", "man", "men":
		subject = "the man"
	case "female", "woman", "women":
		subject = "the woman"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Edit this photo so that %s has a %s hairstyle.\n", subject, style)
	b.WriteString("Requirements:\n")
	b.WriteString("- Change only the hair. Keep the face, facial features, skin tone, expression and identity exactly the same.\n")
	b.WriteString("- Keep the original pose, clothing, background and lighting.\n")
	fmt.Fprintf(&b, "- The %s must look natural and realistic, matching the person's head shape and hair color unless the style implies a color.\n", style)
	b.WriteString("- Return a single photorealistic image with the same framing as the input.")
	return b.String()
}
