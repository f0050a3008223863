package instrument

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

type recordingBackend struct {
	jobs []*Job
	fail map[int64]bool
}

func (r *recordingBackend) Submit(ctx context.Context, job *Job) error {
	if r.fail[job.Options.Seed] {
		return errors.New("backend unavailable")
	}
	r.jobs = append(r.jobs, job)
	return nil
}

type fileSaver struct {
	data string
}

func (f *fileSaver) Save(path string) error {
	return os.WriteFile(path, []byte(f.data), 0644)
}

func testLauncher(b Backend) *Launcher {
	stamp := time.Date(2017, 6, 12, 8, 30, 5, 0, time.UTC)
	return &Launcher{
		Backends: map[string]Backend{ModeLocal: b, ModeEC2: b},
		Now:      func() time.Time { return stamp },
	}
}

func TestExpName(t *testing.T) {
	stamp := time.Date(2017, 6, 12, 8, 30, 5, 0, time.UTC)
	actual := ExpName("20-car-15-rl-intersection-control", stamp, 5)
	expected := "20-car-15-rl-intersection-control_2017_06_12_08_30_05_0005"
	if actual != expected {
		t.Errorf("expected %s but got %s", expected, actual)
	}
}

func TestRunExperimentLite(t *testing.T) {
	backend := &recordingBackend{}
	l := testLauncher(backend)
	call := &Call{
		Method:  "trpo",
		Variant: map[string]any{"discount": 0.999, "batch_size": 15000},
		Policy:  &fileSaver{data: "weights"},
	}
	opts := Options{ExpPrefix: "exp", LogDir: t.TempDir(), Seed: 16, Mode: ModeEC2}
	job, err := l.RunExperimentLite(context.Background(), call, opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(backend.jobs) != 1 || backend.jobs[0] != job {
		t.Fatalf("unexpected submissions: %v", backend.jobs)
	}
	if job.ExpName != "exp_2017_06_12_08_30_05_0016" {
		t.Errorf("unexpected name: %s", job.ExpName)
	}
	if job.Dir != filepath.Join(opts.LogDir, "exp", job.ExpName) {
		t.Errorf("unexpected dir: %s", job.Dir)
	}
	if job.Options.NParallel != DefaultNParallel || job.Options.SnapshotMode != SnapshotAll {
		t.Errorf("defaults not applied: %+v", job.Options)
	}
	if opts.ExpName != "" || opts.NParallel != 0 {
		t.Error("caller options were modified")
	}

	data, err := os.ReadFile(job.VariantFile)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Job     Job            `yaml:"job"`
		Variant map[string]any `yaml:"variant"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Job.ExpName != job.ExpName || doc.Job.Options.Seed != 16 {
		t.Errorf("unexpected job in variant: %+v", doc.Job)
	}
	if doc.Variant["discount"] != 0.999 || doc.Variant["batch_size"] != 15000 {
		t.Errorf("unexpected variant: %v", doc.Variant)
	}
	params, err := os.ReadFile(job.PolicyFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(params) != "weights" {
		t.Errorf("unexpected params file: %q", params)
	}
}

func TestRunExperimentLiteErrors(t *testing.T) {
	l := testLauncher(&recordingBackend{})
	dir := t.TempDir()
	cases := []struct {
		call *Call
		opts Options
	}{
		{&Call{}, Options{ExpPrefix: "x", LogDir: dir}},
		{&Call{Method: "trpo"}, Options{LogDir: dir}},
		{&Call{Method: "trpo"}, Options{ExpPrefix: "x", LogDir: dir, Mode: "lambda"}},
		{&Call{Method: "trpo"}, Options{ExpPrefix: "x", LogDir: dir, SnapshotMode: "some"}},
	}
	for i, c := range cases {
		if _, err := l.RunExperimentLite(context.Background(), c.call, c.opts); err == nil {
			t.Errorf("case %d: expected an error", i)
		}
	}

	l.Backends = map[string]Backend{ModeLocal: &recordingBackend{}}
	opts := Options{ExpPrefix: "x", LogDir: dir, Mode: ModeEC2}
	if _, err := l.RunExperimentLite(context.Background(), &Call{Method: "trpo"}, opts); err == nil {
		t.Error("expected an error for a missing backend")
	}
}

func TestRunExperimentLiteBackendNotReady(t *testing.T) {
	backends := map[string]Backend{
		ModeLocal: &LocalBackend{},
		ModeEC2:   &RemoteBackend{},
	}
	for mode, backend := range backends {
		l := testLauncher(backend)
		logDir := t.TempDir()
		call := &Call{Method: "trpo", Policy: &fileSaver{data: "weights"}}
		opts := Options{ExpPrefix: "exp", LogDir: logDir, Mode: mode, Seed: 5}
		if _, err := l.RunExperimentLite(context.Background(), call, opts); err == nil {
			t.Errorf("%s: expected an error", mode)
		}
		if _, err := os.Stat(filepath.Join(logDir, "exp")); !os.IsNotExist(err) {
			t.Errorf("%s: run directory was created: %v", mode, err)
		}
	}
}

func TestSubmitSeeds(t *testing.T) {
	backend := &recordingBackend{fail: map[int64]bool{20: true}}
	l := testLauncher(backend)
	var built []int64
	build := func(seed int64) (*Call, error) {
		built = append(built, seed)
		if seed == 21 {
			return nil, errors.New("cannot build")
		}
		return &Call{Method: "trpo", Variant: map[string]any{"seed": seed}}, nil
	}
	seeds := []int64{16, 20, 21, 22}
	opts := Options{ExpPrefix: "exp", LogDir: t.TempDir()}
	results, err := l.SubmitSeeds(context.Background(), seeds, build, opts)
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, s := range []string{"seed 20", "seed 21"} {
		if !strings.Contains(err.Error(), s) {
			t.Errorf("error does not mention %s: %v", s, err)
		}
	}
	if diff := cmp.Diff(seeds, built); diff != "" {
		t.Errorf("built calls mismatch (-want +got):\n%s", diff)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results but got %d", len(results))
	}
	for i, res := range results {
		if res.Seed != seeds[i] {
			t.Errorf("result %d: expected seed %d but got %d", i, seeds[i], res.Seed)
		}
		failed := res.Seed == 20 || res.Seed == 21
		if failed != (res.Err != nil) || failed != (res.Job == nil) {
			t.Errorf("seed %d: unexpected result %+v", res.Seed, res)
		}
	}
	var submitted []int64
	for _, job := range backend.jobs {
		submitted = append(submitted, job.Options.Seed)
	}
	if diff := cmp.Diff([]int64{16, 22}, submitted); diff != "" {
		t.Errorf("submissions mismatch (-want +got):\n%s", diff)
	}
	if opts.Seed != 0 {
		t.Error("caller options were modified")
	}
}

func TestSubmitSeedsAbsorbErrors(t *testing.T) {
	backend := &recordingBackend{fail: map[int64]bool{1: true}}
	l := testLauncher(backend)
	var absorbed []int64
	l.SubmitError = func(seed int64, err error) error {
		absorbed = append(absorbed, seed)
		return nil
	}
	build := func(seed int64) (*Call, error) {
		return &Call{Method: "trpo"}, nil
	}
	results, err := l.SubmitSeeds(context.Background(), []int64{1, 2}, build,
		Options{ExpPrefix: "exp", LogDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(absorbed, []int64{1}) || results[0].Err == nil {
		t.Errorf("unexpected results: %v %v", absorbed, results)
	}
}

func TestJobArgs(t *testing.T) {
	job := &Job{
		Method:      "trpo",
		ExpName:     "exp_1",
		Dir:         "data/exp/exp_1",
		VariantFile: "data/exp/exp_1/variant.yml",
		Options:     Options{NParallel: 8, SnapshotMode: "all", SnapshotGap: 1, Seed: 5},
	}
	expected := []string{
		"--method", "trpo",
		"--exp_name", "exp_1",
		"--log_dir", "data/exp/exp_1",
		"--variant_file", "data/exp/exp_1/variant.yml",
		"--n_parallel", "8",
		"--snapshot_mode", "all",
		"--snapshot_gap", "1",
		"--seed", "5",
	}
	if diff := cmp.Diff(expected, job.Args()); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}
