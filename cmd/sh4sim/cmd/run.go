package cmd

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/sarchlab/sh4sim/datarecording"
	"github.com/sarchlab/sh4sim/dispatch"
	"github.com/sarchlab/sh4sim/emu"
	"github.com/sarchlab/sh4sim/monitoring"
	"github.com/sarchlab/sh4sim/tracing"
)

var runFlags struct {
	base      uint32
	entry     uint32
	ramSize   int
	timeslice int64
	codeBuf   int
	maxInsts  uint64

	monitorOn   bool
	monitorPort int
	openBrowser bool

	record     bool
	recordPath string
}

var runCmd = &cobra.Command{
	Use:   "run [image]",
	Short: "Run a flat SH4 binary image.",
	Long: `run loads a flat binary image into guest RAM and executes it ` +
		`until the guest sleeps or the instruction limit is reached.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runImage(args[0])
	},
}

func init() {
	runCmd.Flags().Uint32Var(&runFlags.base, "base", 0x8C000000,
		"guest RAM base address")
	runCmd.Flags().Uint32Var(&runFlags.entry, "entry", 0x8C010000,
		"image load address and entry point")
	runCmd.Flags().IntVar(&runFlags.ramSize, "ram-size", 16<<20,
		"guest RAM size in bytes")
	runCmd.Flags().Int64Var(&runFlags.timeslice, "timeslice",
		dispatch.DefaultTimeslice, "cycles per timeslice")
	runCmd.Flags().IntVar(&runFlags.codeBuf, "code-buffer-size",
		dispatch.DefaultCodeBufferSize, "code buffer capacity in bytes")
	runCmd.Flags().Uint64Var(&runFlags.maxInsts, "max-insts", 0,
		"halt after this many instructions (0 = no limit)")

	runCmd.Flags().BoolVar(&runFlags.monitorOn, "monitor", false,
		"start the monitoring web server")
	runCmd.Flags().IntVar(&runFlags.monitorPort, "monitor-port", 0,
		"monitoring server port (0 = random)")
	runCmd.Flags().BoolVar(&runFlags.openBrowser, "open", false,
		"open the monitoring page in a browser")

	runCmd.Flags().BoolVar(&runFlags.record, "record", false,
		"record execution data to a SQLite database")
	runCmd.Flags().StringVar(&runFlags.recordPath, "record-path", "",
		"output path for the execution database")

	rootCmd.AddCommand(runCmd)
}

func runImage(path string) {
	image, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("reading image: %v", err)
	}

	ram := emu.NewRAM(runFlags.base, runFlags.ramSize)
	ram.Load(runFlags.entry, image)

	engine := dispatch.MakeBuilder().
		WithBus(ram).
		WithTimeslice(runFlags.timeslice).
		WithCodeBufferSize(runFlags.codeBuf).
		WithMaxInstructions(runFlags.maxInsts).
		Build()

	engine.Context().PC = runFlags.entry
	engine.Context().VBR = runFlags.base

	if runFlags.record {
		recorder := datarecording.New(runFlags.recordPath)
		engine.AcceptHook(tracing.NewBlockTracer(recorder))
	}

	if runFlags.monitorOn {
		monitor := monitoring.NewMonitor()
		monitor.RegisterEngine(engine)
		if port := monitorPort(); port > 0 {
			monitor.WithPortNumber(port)
		}
		monitor.StartServer()

		if runFlags.openBrowser {
			if err := browser.OpenURL(monitor.URL()); err != nil {
				fmt.Fprintf(os.Stderr, "opening browser: %v\n", err)
			}
		}
	}

	if err := engine.Run(); err != nil {
		log.Fatalf("engine stopped: %v", err)
	}

	printSummary(engine)
}

func monitorPort() int {
	if runFlags.monitorPort != 0 {
		return runFlags.monitorPort
	}

	if env := os.Getenv("SH4SIM_MONITOR_PORT"); env != "" {
		port, err := strconv.Atoi(env)
		if err == nil {
			return port
		}
	}

	return 0
}

func printSummary(engine *dispatch.Engine) {
	stats := engine.Stats()
	ctx := engine.Context().Snapshot()

	fmt.Printf("instructions: %d\n", stats.Instructions)
	fmt.Printf("timeslices:   %d\n", stats.Timeslices)
	fmt.Printf("faults:       %d\n", stats.Faults)
	fmt.Printf("blocks:       %d\n", stats.Blocks)
	fmt.Printf("pc: %08x  pr: %08x  sr: %08x\n",
		ctx.PC, ctx.PR, uint32(ctx.SR))

	for i := 0; i < len(ctx.R); i += 4 {
		fmt.Printf("r%-2d: %08x  r%-2d: %08x  r%-2d: %08x  r%-2d: %08x\n",
			i, ctx.R[i], i+1, ctx.R[i+1], i+2, ctx.R[i+2], i+3, ctx.R[i+3])
	}
}
