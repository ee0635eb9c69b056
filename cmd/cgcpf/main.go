package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/joho/godotenv"

	"github.com/ohowland/cgc_powerflow/internal/pkg/analysis"
	"github.com/ohowland/cgc_powerflow/internal/pkg/comm/modbuscomm"
	"github.com/ohowland/cgc_powerflow/internal/pkg/fault"
	"github.com/ohowland/cgc_powerflow/internal/pkg/hmi"
	"github.com/ohowland/cgc_powerflow/internal/pkg/powerflow"
	"github.com/ohowland/cgc_powerflow/internal/pkg/pu"
	"github.com/ohowland/cgc_powerflow/internal/pkg/root"
	"github.com/ohowland/cgc_powerflow/internal/pkg/ybus"
)

type options struct {
	casePath      string
	solverPath    string
	telemetryPath string
	faultBus      int
	tui           bool
	sinks         bool
}

func parseFlags() options {
	opts := options{}
	flag.StringVar(&opts.casePath, "case", os.Getenv("CGCPF_CASE"), "case file to solve")
	flag.StringVar(&opts.solverPath, "solver", os.Getenv("CGCPF_SOLVER_CONFIG"), "solver configuration file")
	flag.StringVar(&opts.telemetryPath, "telemetry", "", "modbus telemetry file; measured injections replace the case loads and solved voltages are written back")
	flag.IntVar(&opts.faultBus, "fault", 0, "apply a bolted fault at this bus number after solving")
	flag.BoolVar(&opts.tui, "tui", false, "show the result in a terminal view")
	flag.BoolVar(&opts.sinks, "sinks", false, "attach the result sinks named in the environment")
	flag.Parse()
	return opts
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Println("[Main] .env:", err)
	}
	opts := parseFlags()
	if opts.casePath == "" {
		flag.Usage()
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		log.Fatalln("[Main]", err)
	}
}

func run(opts options) error {
	log.Println("[Main] Starting CGC Power Flow")
	c, err := analysis.LoadCase(opts.casePath)
	if err != nil {
		return err
	}

	cfg := analysis.DefaultConfig()
	if opts.solverPath != "" {
		if cfg.Solver, err = powerflow.ReadConfig(opts.solverPath); err != nil {
			return err
		}
	}

	var tel *modbuscomm.Telemetry
	if opts.telemetryPath != "" {
		log.Println("[Main] Reading load telemetry")
		t, err := modbuscomm.LoadTelemetry(opts.telemetryPath)
		if err != nil {
			return err
		}
		if c.Loads, err = measuredLoads(t, c.Size()); err != nil {
			return err
		}
		tel = &t
	}

	system := root.NewSystem()
	if opts.sinks {
		if err := system.AttachFromEnv(); err != nil {
			return err
		}
		system.Start()
		defer system.Stop()
	}

	var report analysis.Report
	var faulted *fault.Result
	err = analysis.Run(cfg, system.Publisher(), func(s *analysis.Session) error {
		var err error
		if report, err = s.Case(c); err != nil {
			return err
		}
		if opts.faultBus == 0 {
			return nil
		}
		bus, err := ybus.Index(opts.faultBus)
		if err != nil {
			return err
		}
		y, err := ybus.BuildN(c.Size(), c.Branches)
		if err != nil {
			return err
		}
		res, err := s.Fault(y, false, report.Voltages(), bus)
		if err != nil {
			return err
		}
		faulted = &res
		return nil
	})
	if err != nil {
		return err
	}

	if tel != nil {
		if err := modbuscomm.Publish(modbuscomm.NewPoller(tel.Poller), *tel, report.Voltages()); err != nil {
			log.Println("[Main] Writing voltage setpoints:", err)
		}
	}

	if opts.tui {
		return hmi.Show(report)
	}
	printReport(report)
	if faulted != nil {
		printFault(opts.faultBus, *faulted)
	}
	return nil
}

func measuredLoads(tel modbuscomm.Telemetry, n int) (map[int]pu.Complex, error) {
	p, err := modbuscomm.Poll(modbuscomm.NewPoller(tel.Poller), tel, n)
	if err != nil {
		return nil, err
	}
	loads := make(map[int]pu.Complex)
	for i := 1; i < n; i++ {
		if p[i] != 0 {
			loads[ybus.Number(i)] = pu.Complex(p[i])
		}
	}
	return loads, nil
}

func printReport(r analysis.Report) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "Bus\t|V| pu\tAngle deg\tRe\tIm\t")
	for _, b := range r.Buses {
		v := complex128(b.Voltage)
		fmt.Fprintf(w, "%d\t%.5f\t%.3f\t%.6f\t%.6f\t\n", b.Bus, b.Magnitude, b.AngleDeg, real(v), imag(v))
	}
	w.Flush()

	slack := complex128(r.SlackPower)
	fmt.Printf("\nconverged=%v iterations=%d max_delta=%.3g\n", r.Converged, r.Iterations, r.MaxDelta)
	fmt.Printf("loss=%.6f pu slack=%.6f%+.6fj pu\n", r.Loss, real(slack), imag(slack))
}

func printFault(bus int, res fault.Result) {
	fmt.Printf("\nbolted fault at bus %d: I_f=%v pu\n", bus, pu.Complex(res.FaultCurrent))
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "Bus\tV post\tI inj\t")
	for i, v := range res.Voltages {
		fmt.Fprintf(w, "%d\t%v\t%v\t\n", ybus.Number(i), pu.Complex(v), pu.Complex(res.Injections[i]))
	}
	w.Flush()
}
