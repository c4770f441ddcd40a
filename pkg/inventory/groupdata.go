package inventory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// LoadGroupData reads every *.cue file in dir and returns a map of group
// name (the file base name) to its decoded top-level data values.
//
// Each file must evaluate to a concrete struct; CUE constraints inside the
// files are enforced at load time, so invalid data fails the deploy before
// any connection is made.
func LoadGroupData(dir string) (map[string]map[string]any, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read group data dir: %w", err)
	}

	ctx := cuecontext.New()
	out := make(map[string]map[string]any)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".cue") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read group data file %s: %w", path, err)
		}

		val := ctx.CompileBytes(content, cue.Filename(path))
		if err := val.Err(); err != nil {
			return nil, fmt.Errorf("failed to compile %s: %s", path, errors.Details(err, nil))
		}
		if err := val.Validate(cue.Concrete(true)); err != nil {
			return nil, fmt.Errorf("group data %s is not concrete: %s", path, errors.Details(err, nil))
		}

		var data map[string]any
		if err := val.Decode(&data); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %s", path, errors.Details(err, nil))
		}

		group := strings.TrimSuffix(entry.Name(), ".cue")
		out[group] = data
	}

	return out, nil
}
