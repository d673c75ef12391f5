package version

import (
	"fmt"
	"log"
	"strings"

	"github.com/RawleySM/llm-shotgun/theme"
)

var (
	Name        = "llm-shotgun"
	Authors     = "Rawley S.M."
	Description = "Multi-provider LLM comparison and token-pipeline service"
	Version     = "v0.0.1"
	Commit      = "none"
	Date        = "nowish"
	User        = "local"
)

const (
	GithubHomeText  = "github.com/RawleySM/llm-shotgun"
	GithubHomeUri   = "https://github.com/RawleySM/llm-shotgun"
	GithubLatestUri = "https://github.com/RawleySM/llm-shotgun/releases/latest"
)

func PrintVersionInfo(extendedInfo bool, vlog *log.Logger) {
	githubUri := theme.Hyperlink(GithubHomeUri, GithubHomeText)
	latestUri := theme.Hyperlink(GithubLatestUri, Version)

	var b strings.Builder

	b.WriteString(theme.ColourSplash(fmt.Sprintf("-- %s : %s --\n", Name, Description)))
	b.WriteString(theme.StyleUrl(githubUri))
	b.WriteString("  ")
	b.WriteString(theme.ColourVersion(latestUri))

	if extendedInfo {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf(" Commit: %s\n", Commit))
		b.WriteString(fmt.Sprintf("  Built: %s\n", Date))
		b.WriteString(fmt.Sprintf("  Using: %s\n", User))
	}

	vlog.Println(b.String())
}
