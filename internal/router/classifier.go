package router

import "strings"

var actionVerbs = []string{
	"read", "write", "save", "fetch", "get", "list", "create", "delete",
	"send", "search", "summarize", "summarise", "convert", "translate",
	"generate", "build", "run", "check", "update", "upload", "download",
	"extract", "parse", "compare", "merge", "report",
}

var chainConnectors = []string{
	" and then ", " then ", " and ", " after that ", ", then ", "; ",
}

// looksMultiStep is the cheap heuristic that escalates a request to the
// reasoning tier: two or more distinct action verbs joined by a chaining
// connector usually means the ask needs more than one tool.
func looksMultiStep(text string) bool {
	lower := " " + strings.ToLower(text) + " "

	verbs := 0
	for _, v := range actionVerbs {
		if strings.Contains(lower, " "+v+" ") || strings.Contains(lower, " "+v+"s ") {
			verbs++
			if verbs >= 2 {
				break
			}
		}
	}
	if verbs < 2 {
		return false
	}
	for _, c := range chainConnectors {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}
