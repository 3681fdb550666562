package compiler

import (
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/loopsched/internal/ir"
)

// InvalidWorkloadError is returned when a workload compiles but fails
// validation.
type InvalidWorkloadError struct {
	Name   string
	Errors []ValidationError
}

func (e *InvalidWorkloadError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("workload %q is invalid: %s", e.Name, strings.Join(msgs, "; "))
}

// LoadWorkloads compiles and validates every entry of the top-level
// `workload` struct in a CUE file or package directory. Workloads are
// returned in declaration order.
func LoadWorkloads(path string) ([]ir.Workload, error) {
	v, err := loadValue(path)
	if err != nil {
		return nil, err
	}

	wv := v.LookupPath(cue.ParsePath("workload"))
	if !wv.Exists() {
		return nil, fmt.Errorf("%s: no workload definitions", path)
	}
	iter, err := wv.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []ir.Workload
	for iter.Next() {
		w, err := CompileWorkload(iter.Value())
		if err != nil {
			return nil, err
		}
		if errs := Validate(w); len(errs) > 0 {
			return nil, &InvalidWorkloadError{Name: w.Name, Errors: errs}
		}
		out = append(out, *w)
	}
	return out, nil
}

// LoadWorkload is LoadWorkloads followed by a lookup by name. An empty name
// selects the only workload of a single-workload file.
func LoadWorkload(path, name string) (*ir.Workload, error) {
	ws, err := LoadWorkloads(path)
	if err != nil {
		return nil, err
	}
	if name == "" {
		if len(ws) != 1 {
			return nil, fmt.Errorf("%s defines %d workloads; name one", path, len(ws))
		}
		return &ws[0], nil
	}
	names := make([]string, len(ws))
	for i := range ws {
		if ws[i].Name == name {
			return &ws[i], nil
		}
		names[i] = ws[i].Name
	}
	return nil, fmt.Errorf("workload %q not found in %s (have %v)", name, path, names)
}

func loadValue(path string) (cue.Value, error) {
	info, err := os.Stat(path)
	if err != nil {
		return cue.Value{}, fmt.Errorf("load workloads: %w", err)
	}
	ctx := cuecontext.New()

	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return cue.Value{}, fmt.Errorf("load workloads: %w", err)
		}
		v := ctx.CompileBytes(data, cue.Filename(path))
		if err := v.Err(); err != nil {
			return cue.Value{}, formatCUEError(err)
		}
		return v, nil
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: path})
	if len(instances) == 0 {
		return cue.Value{}, fmt.Errorf("load workloads: no CUE instances in %s", path)
	}
	if err := instances[0].Err; err != nil {
		return cue.Value{}, formatCUEError(err)
	}
	v := ctx.BuildInstance(instances[0])
	if err := v.Err(); err != nil {
		return cue.Value{}, formatCUEError(err)
	}
	return v, nil
}
