//go:build integration

package itest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const modulePath = "github.com/forPelevin/hlreel"

// findRepoRoot walks up from the working directory to the go.mod that
// declares this module, so `go run ./cmd/hlreel` resolves from there.
func findRepoRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for dir := wd; ; dir = filepath.Dir(dir) {
		b, err := os.ReadFile(filepath.Join(dir, "go.mod"))
		if err == nil && declaresModule(string(b)) {
			return dir, nil
		}
		if parent := filepath.Dir(dir); parent == dir {
			return "", fmt.Errorf("no go.mod for %s above %s", modulePath, wd)
		}
	}
}

func declaresModule(gomod string) bool {
	for _, line := range strings.Split(gomod, "\n") {
		if f := strings.Fields(line); len(f) == 2 && f[0] == "module" {
			return f[1] == modulePath
		}
	}
	return false
}
