package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"gridworld.ai/internal/persistence/indexdb"
	persistlog "gridworld.ai/internal/persistence/log"
	"gridworld.ai/internal/sim/world"
)

type summary struct {
	run       string
	steps     int
	joins     int
	leaves    int
	movements int
	applied   int
	resyncs   int
	stalled   int
	lastStep  uint64
	positions map[string][2]int
}

func main() {
	var (
		stepsDir = flag.String("steps", filepath.Join("data", "worlds", "world_1", "steps"), "dir containing steps-<run>.jsonl.zst")
		run      = flag.String("run", "", "run id to verify (default: latest run)")
		all      = flag.Bool("all", false, "verify every run in -steps")
		dbPath   = flag.String("db", "", "optional index.sqlite to cross-check the latest run")
		toStep   = flag.Int64("to_step", -1, "stop after this step (inclusive, optional)")
	)
	flag.Parse()

	files, err := persistlog.ListFiles(*stepsDir, persistlog.StepsPrefix)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list steps:", err)
		os.Exit(1)
	}
	files, err = selectRuns(files, *run, *all)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var last summary
	for _, path := range files {
		sum, err := replay(path, *toStep)
		if err != nil {
			fmt.Fprintf(os.Stderr, "replay %s: %v\n", filepath.Base(path), err)
			os.Exit(1)
		}
		printSummary(sum)
		last = sum
	}

	if *dbPath == "" {
		return
	}
	idx, err := indexdb.OpenSQLite(*dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open index:", err)
		os.Exit(1)
	}
	defer idx.Close()
	ctx := context.Background()
	runID, err := idx.RunID(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "index run id:", err)
		os.Exit(1)
	}
	if runID != last.run {
		fmt.Fprintf(os.Stderr, "index holds run %q, not %q\n", runID, last.run)
		os.Exit(1)
	}
	n, err := idx.StepCount(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "index step count:", err)
		os.Exit(1)
	}
	if *toStep < 0 && n != last.steps {
		fmt.Fprintf(os.Stderr, "index mismatch: index has %d steps, log has %d\n", n, last.steps)
		os.Exit(1)
	}
	fmt.Printf("index: run %s, %s steps\n", runID, humanize.Comma(int64(n)))
}

func runOf(path string) string {
	name := filepath.Base(path)
	name = strings.TrimPrefix(name, persistlog.StepsPrefix+"-")
	return strings.TrimSuffix(name, ".jsonl.zst")
}

// selectRuns picks the files to verify: every run, the named run, or the latest.
func selectRuns(files []string, run string, all bool) ([]string, error) {
	if len(files) == 0 {
		return nil, errors.New("no step logs found")
	}
	if all {
		return files, nil
	}
	if run == "" {
		return files[len(files)-1:], nil
	}
	for _, f := range files {
		if runOf(f) == run {
			return []string{f}, nil
		}
	}
	return nil, fmt.Errorf("run %q not found", run)
}

var errStop = errors.New("stop")

// replay verifies one run from step 0.
func replay(path string, toStep int64) (summary, error) {
	st := world.NewReplayState()
	sum := summary{run: runOf(path)}
	err := persistlog.ReadSteps(path, func(e world.StepLogEntry) error {
		if toStep >= 0 && e.Step > uint64(toStep) {
			return errStop
		}
		if err := st.Apply(e); err != nil {
			return err
		}
		sum.steps++
		sum.joins += len(e.Joins)
		sum.leaves += len(e.Leaves)
		sum.movements += len(e.Movements)
		sum.resyncs += len(e.Resyncs)
		for _, m := range e.Movements {
			if m.Applied {
				sum.applied++
			}
		}
		if e.Stalled {
			sum.stalled++
		}
		sum.lastStep = e.Step
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return sum, err
	}
	sum.positions = map[string][2]int{}
	for id, p := range st.Positions() {
		sum.positions[id] = p.Wire()
	}
	return sum, nil
}

func printSummary(sum summary) {
	fmt.Printf("OK run %s: %s steps verified (last=%d)\n", sum.run, humanize.Comma(int64(sum.steps)), sum.lastStep)
	fmt.Printf("joins=%s leaves=%s movements=%s applied=%s resyncs=%s stalled=%s\n",
		humanize.Comma(int64(sum.joins)), humanize.Comma(int64(sum.leaves)),
		humanize.Comma(int64(sum.movements)), humanize.Comma(int64(sum.applied)),
		humanize.Comma(int64(sum.resyncs)), humanize.Comma(int64(sum.stalled)))
	ids := make([]string, 0, len(sum.positions))
	for id := range sum.positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Printf("  %s @ %v\n", id, sum.positions[id])
	}
}
