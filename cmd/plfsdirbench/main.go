// Command plfsdirbench is the store's diagnostic entry point: a small set
// of named micro-benchmarks exercising one module each, the same surface
// the original store's CLI glue exposed for nightly perf runs.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/chuckcranor/deltafs/internal/logging"
	"github.com/chuckcranor/deltafs/pkg/plfsio"
	"github.com/chuckcranor/deltafs/pkg/sidelog"
)

var (
	cfRe = regexp.MustCompile(`^cf(\d+)$`)
	kvRe = regexp.MustCompile(`^kv(\d+)$`)
)

func main() {
	batch := flag.Bool("batch", false, "skip the interactive progress display and just log")
	outDir := flag.String("out", "", "directory to write benchmark output into (default: a temp dir)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: plfsdirbench [-batch] [-out dir] <wisc|bf|cf<N>|kv<M>|dir>")
		os.Exit(2)
	}
	name := flag.Arg(0)

	logger := logging.DefaultLogger().With(logging.Component("plfsdirbench"))

	opts, err := plfsio.LoadOptions("")
	if err != nil {
		logger.Error("failed to load options", logging.Error(err))
		os.Exit(1)
	}

	dir := *outDir
	if dir == "" {
		dir, err = os.MkdirTemp("", "plfsdirbench-")
		if err != nil {
			logger.Error("failed to create output dir", logging.Error(err))
			os.Exit(1)
		}
	}

	env := readEnv()

	run := func(report func(float64)) (benchResult, error) {
		return dispatch(name, dir, opts, env, report)
	}

	var res benchResult
	if *batch || env.dump {
		res, err = run(func(float64) {})
	} else {
		res, err = runWithProgress(name, run)
	}
	if err != nil {
		logger.Error("benchmark failed", logging.String("bench", name), logging.Error(err))
		os.Exit(1)
	}

	logger.Info("benchmark complete",
		logging.String("bench", name),
		logging.Count(res.Ops),
		logging.Duration("elapsed", res.Elapsed),
		logging.Int64("bytes", res.Bytes),
	)
	fmt.Printf("%s: %d ops in %v (%.0f ops/sec), %d bytes, %d victims\n",
		name, res.Ops, res.Elapsed, float64(res.Ops)/res.Elapsed.Seconds(), res.Bytes, res.Victims)
}

// benchEnv holds the knobs the observable CLI surface exposes beyond what
// plfsio.LoadOptions already applies (COMPRESSION, FORCE_COMPRESSION,
// INDEX_COMPRESSION, SNAPPY, BF_BITS_PER_KEY).
type benchEnv struct {
	miFiles   int
	kiRanks   int
	queryStep int
	dump      bool
}

func readEnv() benchEnv {
	e := benchEnv{miFiles: 1, kiRanks: 1, queryStep: 1}
	if v := os.Getenv("MI_FILES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			e.miFiles = n
		}
	}
	if v := os.Getenv("KI_RANKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			e.kiRanks = n
		}
	}
	if v := os.Getenv("QUERY_STEP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			e.queryStep = n
		}
	}
	e.dump = os.Getenv("DUMP") != ""
	return e
}

type benchResult struct {
	Ops     int
	Bytes   int64
	Victims int
	Elapsed time.Duration
}

func dispatch(name, outDir string, opts plfsio.Options, env benchEnv, report func(float64)) (benchResult, error) {
	switch {
	case name == "wisc":
		return runWisc(outDir, opts, env, report)
	case name == "dir":
		return runDirBench(outDir, opts, env, report)
	case name == "bf":
		return runBF(opts, env, report)
	case cfRe.MatchString(name):
		bits, _ := strconv.Atoi(cfRe.FindStringSubmatch(name)[1])
		return runCF(opts, env, bits, report)
	case kvRe.MatchString(name):
		thousands, _ := strconv.Atoi(kvRe.FindStringSubmatch(name)[1])
		return runKV(opts, thousands*1000, report)
	default:
		return benchResult{}, fmt.Errorf("unknown benchmark %q", name)
	}
}

// recordCount scales a benchmark's working set by the KI_RANKS/MI_FILES
// knobs, the same two dimensions a real checkpoint burst varies along:
// how many ranks are writing, and how many files (here, keys) each rank
// emits per checkpoint.
func recordCount(env benchEnv, perRank int) int {
	n := env.kiRanks * env.miFiles * perRank
	if n <= 0 {
		n = perRank
	}
	return n
}

func randomValue(n int, rng *rand.Rand) []byte {
	v := make([]byte, n)
	rng.Read(v)
	return v
}

// runWisc drives the single-epoch write path a checkpoint burst exercises:
// every rank appends its records, then the run ends with one epoch flush.
func runWisc(outDir string, opts plfsio.Options, env benchEnv, report func(float64)) (benchResult, error) {
	n := recordCount(env, 1000)
	d, err := plfsio.Open(outDir+"/wisc", opts)
	if err != nil {
		return benchResult{}, err
	}

	rng := rand.New(rand.NewSource(1))
	start := time.Now()
	var bytes int64
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("rank%04d-file%08d", opts.Rank, i))
		val := randomValue(256, rng)
		if err := d.Add(key, val, 0); err != nil {
			return benchResult{}, err
		}
		bytes += int64(len(key) + len(val))
		if i%1000 == 0 {
			report(float64(i) / float64(n))
		}
	}
	if err := d.EndEpoch(0); err != nil {
		return benchResult{}, err
	}
	if err := d.Finish(); err != nil {
		return benchResult{}, err
	}
	report(1)
	return benchResult{Ops: n, Bytes: bytes, Elapsed: time.Since(start)}, nil
}

// runDirBench is "wisc" plus everything wisc leaves out: several epochs,
// a Side I/O Log coordinated at every epoch boundary, and the manifest's
// terminal footer, end to end through one Dir.
func runDirBench(outDir string, opts plfsio.Options, env benchEnv, report func(float64)) (benchResult, error) {
	const epochs = 4
	n := recordCount(env, 500)

	d, err := plfsio.Open(outDir+"/dir", opts)
	if err != nil {
		return benchResult{}, err
	}
	side, err := sidelog.Open(outDir+"/dir/side.log", opts.DataBuffer, opts.MinDataBuffer, func(job func()) { go job() })
	if err != nil {
		return benchResult{}, err
	}
	d.AttachSideLog(side)

	rng := rand.New(rand.NewSource(2))
	start := time.Now()
	var bytes int64
	total := epochs * n
	done := 0
	for e := 0; e < epochs; e++ {
		for i := 0; i < n; i++ {
			key := []byte(fmt.Sprintf("rank%04d-epoch%02d-file%08d", opts.Rank, e, i))
			val := randomValue(256, rng)
			if err := d.Add(key, val, uint64(e)); err != nil {
				return benchResult{}, err
			}
			if _, err := side.Append([]byte(fmt.Sprintf("side-%d-%d\n", e, i))); err != nil {
				return benchResult{}, err
			}
			bytes += int64(len(key) + len(val))
			done++
			if done%1000 == 0 {
				report(float64(done) / float64(total))
			}
		}
		if err := d.EndEpoch(uint64(e)); err != nil {
			return benchResult{}, err
		}
	}
	if err := d.Finish(); err != nil {
		return benchResult{}, err
	}
	report(1)
	return benchResult{Ops: total, Bytes: bytes, Elapsed: time.Since(start)}, nil
}

// runKV drives the Write Buffer and Table Builder directly, without a Dir
// or partitioning, to measure raw sort-then-compact throughput for n keys.
func runKV(opts plfsio.Options, n int, report func(float64)) (benchResult, error) {
	wb := plfsio.NewWriteBuffer(&opts, opts.TotalMemtableBudget)
	rng := rand.New(rand.NewSource(3))

	start := time.Now()
	var bytes int64
	actual := 0
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%010d", i))
		val := randomValue(64, rng)
		if !wb.HasRoom(key, val) {
			break
		}
		wb.Add(key, val)
		actual++
		bytes += int64(len(key) + len(val))
		if i%5000 == 0 {
			report(0.5 * float64(i) / float64(n))
		}
	}

	entries := wb.FinishAndSort()
	report(0.75)

	f, err := os.CreateTemp("", "plfsdirbench-kv-*.tbl")
	if err != nil {
		return benchResult{}, err
	}
	defer os.Remove(f.Name())
	defer f.Close()

	tb := plfsio.NewTableBuilder(&opts, f, 0, len(entries))
	for _, e := range entries {
		tb.Add(e.Key, e.Value)
	}
	if _, err := tb.Finish(); err != nil {
		return benchResult{}, err
	}
	report(1)

	return benchResult{Ops: actual, Bytes: bytes, Elapsed: time.Since(start)}, nil
}

// runBF builds a bloom filter over n keys and samples QUERY_STEP-separated
// absent keys to estimate the observed false-positive rate.
func runBF(opts plfsio.Options, env benchEnv, report func(float64)) (benchResult, error) {
	n := recordCount(env, 10000)
	bits := opts.BFBitsPerKey
	if bits == 0 {
		bits = 10
	}
	b := plfsio.NewBloomFilterBuilder(bits)

	start := time.Now()
	for i := 0; i < n; i++ {
		b.Add([]byte(fmt.Sprintf("present-%08d", i)))
		if i%1000 == 0 {
			report(0.8 * float64(i) / float64(n))
		}
	}
	block := b.Finish()
	report(0.9)

	falsePositives := 0
	queries := 0
	for i := 0; i < n; i += env.queryStep {
		queries++
		if plfsio.BloomFilterMayContain(block, []byte(fmt.Sprintf("absent-%08d", i))) {
			falsePositives++
		}
	}
	report(1)

	if env.dump {
		fmt.Printf("bf: n=%d bits_per_key=%d false_positives=%d/%d\n", n, bits, falsePositives, queries)
	}
	return benchResult{Ops: n, Bytes: int64(len(block)), Elapsed: time.Since(start)}, nil
}

// runCF builds a cuckoo filter over n keys with fingerprintBits bits per
// entry, reporting the victim count the auxiliary chaining spilled to.
func runCF(opts plfsio.Options, env benchEnv, fingerprintBits int, report func(float64)) (benchResult, error) {
	if fingerprintBits <= 0 {
		fingerprintBits = 12
	}
	n := recordCount(env, 10000)
	c := plfsio.NewCuckooFilterBuilder(n, fingerprintBits, 0, opts.CuckooFrac)

	start := time.Now()
	for i := 0; i < n; i++ {
		c.Add([]byte(fmt.Sprintf("key-%08d", i)), 0)
		if i%1000 == 0 {
			report(0.9 * float64(i) / float64(n))
		}
	}
	block := c.Finish()
	report(1)

	if env.dump {
		fmt.Printf("cf%d: n=%d victims=%d\n", fingerprintBits, n, c.NumVictims())
	}
	return benchResult{Ops: n, Bytes: int64(len(block)), Victims: c.NumVictims(), Elapsed: time.Since(start)}, nil
}

// progressModel is the bubbletea program driving the interactive display:
// a single progress bar fed by the benchmark's report callback over a
// channel, finishing the program once the benchmark goroutine returns.
type progressModel struct {
	bar      progress.Model
	name     string
	fraction float64
	done     bool
	result   benchResult
	err      error
}

type progressMsg float64
type doneMsg struct {
	res benchResult
	err error
}

func runWithProgress(name string, run func(report func(float64)) (benchResult, error)) (benchResult, error) {
	updates := make(chan float64, 8)
	results := make(chan doneMsg, 1)

	go func() {
		res, err := run(func(f float64) {
			select {
			case updates <- f:
			default:
			}
		})
		results <- doneMsg{res: res, err: err}
	}()

	m := progressModel{bar: progress.New(progress.WithDefaultGradient()), name: name}
	p := tea.NewProgram(m)

	go func() {
		for {
			select {
			case f, ok := <-updates:
				if !ok {
					return
				}
				p.Send(progressMsg(f))
			case d := <-results:
				p.Send(d)
				return
			}
		}
	}()

	final, err := p.Run()
	if err != nil {
		return benchResult{}, err
	}
	fm := final.(progressModel)
	return fm.result, fm.err
}

func (m progressModel) Init() tea.Cmd {
	return nil
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case progressMsg:
		m.fraction = float64(msg)
		return m, nil
	case doneMsg:
		m.done = true
		m.result = msg.res
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m progressModel) View() string {
	title := lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("plfsdirbench: %s", m.name))
	if m.done {
		if m.err != nil {
			return fmt.Sprintf("%s\n%s\n", title, lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render(m.err.Error()))
		}
		return fmt.Sprintf("%s\ndone: %d ops in %v\n", title, m.result.Ops, m.result.Elapsed)
	}
	return fmt.Sprintf("%s\n%s\n", title, m.bar.ViewAs(m.fraction))
}
