package schema

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/realm/internal/ir"
)

// Load compiles the schema at path, which may be a single .cue file or a
// directory holding one CUE package.
func Load(path string) (ir.Schema, error) {
	info, err := os.Stat(path)
	if err != nil {
		return ir.Schema{}, fmt.Errorf("schema path: %w", err)
	}

	cfg := &load.Config{Dir: path}
	args := []string{"."}
	if !info.IsDir() {
		cfg.Dir = filepath.Dir(path)
		args = []string{"./" + filepath.Base(path)}
	}

	instances := load.Instances(args, cfg)
	if len(instances) == 0 {
		return ir.Schema{}, fmt.Errorf("no CUE instances loaded from %s", path)
	}
	inst := instances[0]
	if inst.Err != nil {
		return ir.Schema{}, fmt.Errorf("loading CUE files: %w", formatCUEError(inst.Err))
	}

	ctx := cuecontext.New()
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return ir.Schema{}, fmt.Errorf("building CUE value: %w", formatCUEError(err))
	}
	return Compile(value)
}
