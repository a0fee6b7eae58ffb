package integrator

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"
)

// Accumulated time spent in one kernel during a frame.
type StageStat struct {
	Name  string
	Calls uint32
	Time  time.Duration
}

// Ray counts and trace times for one bounce.
type BounceStat struct {
	// Rays submitted to the closest hit query.
	Rays uint32

	// Paths still alive after compaction.
	Live uint32

	// Shadow rays submitted to the occlusion query.
	ShadowRays uint32

	TraceTime       time.Duration
	ShadowTraceTime time.Duration
}

type FrameStats struct {
	// Kernel timings in pipeline order. Kernels that did not run are omitted.
	Stages []StageStat

	// Per bounce statistics.
	Bounces []BounceStat

	// Total render time for entire frame.
	RenderTime time.Duration

	// Bytes allocated for the working set and the compiled scene.
	WorkingSetMemory uint64
	SceneMemory      uint64
}

// Number of rays traced by the frame, including shadow rays.
func (s FrameStats) TotalRays() uint64 {
	var total uint64
	for _, b := range s.Bounces {
		total += uint64(b.Rays) + uint64(b.ShadowRays)
	}
	return total
}

// Time spent inside intersection queries.
func (s FrameStats) TraceTime() time.Duration {
	var total time.Duration
	for _, b := range s.Bounces {
		total += b.TraceTime + b.ShadowTraceTime
	}
	return total
}

// Print frame stats as a set of tables.
func (s FrameStats) Print(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Kernel", "Calls", "Time"})
	var kernelTime time.Duration
	for _, stage := range s.Stages {
		kernelTime += stage.Time
		table.Append([]string{
			stage.Name,
			fmt.Sprintf("%d", stage.Calls),
			fmt.Sprintf("%s", stage.Time),
		})
	}
	table.SetFooter([]string{"", "TOTAL", fmt.Sprintf("%s", kernelTime)})
	table.Render()

	table = tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Bounce", "Rays", "Live", "Shadow rays", "Trace time", "Shadow trace time"})
	for bounce, stat := range s.Bounces {
		table.Append([]string{
			fmt.Sprintf("%d", bounce),
			fmt.Sprintf("%d", stat.Rays),
			fmt.Sprintf("%d", stat.Live),
			fmt.Sprintf("%d", stat.ShadowRays),
			fmt.Sprintf("%s", stat.TraceTime),
			fmt.Sprintf("%s", stat.ShadowTraceTime),
		})
	}
	table.SetFooter([]string{"", "", "", fmt.Sprintf("%d rays", s.TotalRays()), "TOTAL", fmt.Sprintf("%s", s.RenderTime)})
	table.Render()
}

// Collects stats from host kernels running on the device queue.
type statsRecorder struct {
	sync.Mutex

	stages  [numKernels]StageStat
	bounces []BounceStat
}

func (sr *statsRecorder) reset() {
	sr.Lock()
	defer sr.Unlock()
	sr.stages = [numKernels]StageStat{}
	sr.bounces = sr.bounces[:0]
}

func (sr *statsRecorder) bounce(index int) *BounceStat {
	for len(sr.bounces) <= index {
		sr.bounces = append(sr.bounces, BounceStat{})
	}
	return &sr.bounces[index]
}

func (sr *statsRecorder) recordStage(kt kernelType, elapsed time.Duration) {
	sr.Lock()
	defer sr.Unlock()
	sr.stages[kt].Calls++
	sr.stages[kt].Time += elapsed
}

func (sr *statsRecorder) recordTrace(bounce int, shadow bool, rays uint32, elapsed time.Duration) {
	sr.Lock()
	defer sr.Unlock()
	stat := sr.bounce(bounce)
	if shadow {
		stat.ShadowRays += rays
		stat.ShadowTraceTime += elapsed
		return
	}
	stat.Rays += rays
	stat.TraceTime += elapsed
}

func (sr *statsRecorder) recordLive(bounce int, live uint32) {
	sr.Lock()
	defer sr.Unlock()
	sr.bounce(bounce).Live = live
}

func (sr *statsRecorder) snapshot() FrameStats {
	sr.Lock()
	defer sr.Unlock()

	var out FrameStats
	for kt := kernelType(0); kt < numKernels; kt++ {
		stage := sr.stages[kt]
		if stage.Calls == 0 {
			continue
		}
		stage.Name = kt.String()
		out.Stages = append(out.Stages, stage)
	}
	out.Bounces = append([]BounceStat(nil), sr.bounces...)
	return out
}

// Aggregated results of RunBenchmark.
type BenchmarkStats struct {
	Passes int

	// Per bounce ray counts and trace times summed over all passes.
	Bounces []BounceStat

	// Wall time for all passes.
	TotalTime time.Duration
}

func (b BenchmarkStats) frame() FrameStats {
	return FrameStats{Bounces: b.Bounces, RenderTime: b.TotalTime}
}

// Throughput of the intersection queries in millions of rays per second.
func (b BenchmarkStats) MRaysPerSecond() float64 {
	fs := b.frame()
	if fs.TraceTime() <= 0 {
		return 0
	}
	return float64(fs.TotalRays()) / fs.TraceTime().Seconds() / 1e6
}

// Print the benchmark results as a table.
func (b BenchmarkStats) Print(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Bounce", "Rays", "MRays/s", "Shadow rays", "Shadow MRays/s"})
	for bounce, stat := range b.Bounces {
		table.Append([]string{
			fmt.Sprintf("%d", bounce),
			fmt.Sprintf("%d", stat.Rays),
			fmt.Sprintf("%.2f", mraysPerSecond(stat.Rays, stat.TraceTime)),
			fmt.Sprintf("%d", stat.ShadowRays),
			fmt.Sprintf("%.2f", mraysPerSecond(stat.ShadowRays, stat.ShadowTraceTime)),
		})
	}
	table.SetFooter([]string{
		fmt.Sprintf("%d passes", b.Passes),
		fmt.Sprintf("%s", b.TotalTime),
		"TOTAL",
		fmt.Sprintf("%d rays", b.frame().TotalRays()),
		fmt.Sprintf("%.2f", b.MRaysPerSecond()),
	})
	table.Render()
}

func mraysPerSecond(rays uint32, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(rays) / elapsed.Seconds() / 1e6
}
