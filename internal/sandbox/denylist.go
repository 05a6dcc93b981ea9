package sandbox

import "regexp"

// The restricted strategy runs guest code in-process, so candidates are
// statically screened before compilation. The deny-list covers dynamic code
// evaluation, module loading, filesystem/network/process access and timer
// scheduling. A match rejects the candidate outright.

type denyRule struct {
	name    string
	pattern *regexp.Regexp
}

var denyRules = []denyRule{
	{"dynamic eval", regexp.MustCompile(`\beval\s*\(`)},
	{"Function constructor", regexp.MustCompile(`\bnew\s+Function\b|\bFunction\s*\(`)},
	{"module loading", regexp.MustCompile(`\brequire\s*\(|\bimport\s*\(|^\s*import\s`)},
	{"process access", regexp.MustCompile(`\bprocess\b`)},
	{"child processes", regexp.MustCompile(`child_process`)},
	{"filesystem access", regexp.MustCompile(`\bfs\s*\.|readFileSync|writeFileSync`)},
	{"network access", regexp.MustCompile(`\bfetch\s*\(|XMLHttpRequest|\bWebSocket\b|\bhttp\s*\.|\bnet\s*\.`)},
	{"timer scheduling", regexp.MustCompile(`setTimeout|setInterval|setImmediate|queueMicrotask`)},
	{"global object escape", regexp.MustCompile(`\bglobalThis\b|\bglobal\s*\.`)},
	{"constructor escape", regexp.MustCompile(`\.constructor\s*\(|\[\s*['"]constructor['"]\s*\]`)},
	{"prototype tampering", regexp.MustCompile(`__proto__|Object\.setPrototypeOf`)},
}

// scanDenyList returns the name of the first violated rule and the matched
// fragment, or empty strings when the code passes.
func scanDenyList(code string) (rule, match string) {
	for _, r := range denyRules {
		if m := r.pattern.FindString(code); m != "" {
			return r.name, m
		}
	}
	return "", ""
}
