package envutil

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ExtraBinDirs lists directories where tool CLIs commonly live but which a
// restricted launch environment may leave off PATH.
func ExtraBinDirs(goos, home string, getenv func(string) string) []string {
	var dirs []string
	if home != "" {
		dirs = append(dirs,
			filepath.Join(home, ".local", "bin"),
			filepath.Join(home, ".cargo", "bin"),
		)
	}
	if goos == "windows" {
		if appData := getenv("APPDATA"); appData != "" {
			dirs = append(dirs, filepath.Join(appData, "npm"))
		}
		if local := getenv("LOCALAPPDATA"); local != "" {
			dirs = append(dirs, filepath.Join(local, "Programs", "nodejs"))
		}
		return dirs
	}
	return append(dirs, "/opt/homebrew/bin", "/usr/local/bin")
}

// mergeLists joins PATH-style lists in order, dropping blanks and repeats.
func mergeLists(sep string, lists ...string) string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, entry := range strings.Split(list, sep) {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			if _, dup := seen[entry]; dup {
				continue
			}
			seen[entry] = struct{}{}
			out = append(out, entry)
		}
	}
	return strings.Join(out, sep)
}

type pathPlan struct {
	goos     string
	sep      string
	home     string
	getenv   func(string) string
	loginEnv func(env []string) string
}

// apply returns env with PATH extended: the login-shell PATH (if any)
// first, then the current entries, then the extra binary directories.
func (p pathPlan) apply(env []string) []string {
	current := lookup(env, pathKey, p.goos)
	var login string
	if p.loginEnv != nil {
		login = p.loginEnv(env)
	}
	extra := strings.Join(ExtraBinDirs(p.goos, p.home, p.getenv), p.sep)
	merged := mergeLists(p.sep, login, current, extra)
	if merged == "" || merged == current {
		return env
	}
	return set(env, pathKey, merged, p.goos)
}

func currentPlan(home string) pathPlan {
	return pathPlan{
		goos:     runtime.GOOS,
		sep:      string(os.PathListSeparator),
		home:     home,
		getenv:   os.Getenv,
		loginEnv: darwinLoginPATH,
	}
}

// PreparePATH extends the PATH of the current process so spawned tools and
// executable lookups see the same directories. It returns the new PATH.
func PreparePATH(home string) string {
	plan := currentPlan(home)
	env := plan.apply(os.Environ())
	path := lookup(env, pathKey, plan.goos)
	if path != os.Getenv(pathKey) {
		_ = os.Setenv(pathKey, path)
	}
	return path
}
