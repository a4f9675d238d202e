package mcptools

import (
	"fmt"
	"strings"

	"github.com/cwygoda/songbridge/internal/domain"
)

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func renderSubmitted(job *domain.Job, req domain.GenerateRequest) string {
	var b strings.Builder
	b.WriteString("🎶 Music generation started!\n")
	fmt.Fprintf(&b, "Use '%s' to check status.\n\n", ResultTool)
	fmt.Fprintf(&b, "### Music Generation: %s\n\n", orDefault(req.Title, domain.DefaultTitle))
	fmt.Fprintf(&b, "Prompt: %s\n", req.Prompt)
	fmt.Fprintf(&b, "Style: %s\n\n", orDefault(req.Style, "Default"))
	b.WriteString("⏳ Status: Pending\n")
	fmt.Fprintf(&b, "🆔 Job ID: %s\n", job.ID)
	return b.String()
}

func renderComplete(job *domain.Job) string {
	res := job.Result
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Music complete!\n\n### Song %q Created\n\n", res.Title)
	if res.ImageURL != "" {
		fmt.Fprintf(&b, "![%s](%s)\n\n", res.Title, res.ImageURL)
	}
	fmt.Fprintf(&b, "🎧 [Click here to listen](%s)\n", res.AudioURL)
	return b.String()
}
