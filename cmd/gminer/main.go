/*
Gminer traces a parser under a debugger and mines a grammar from the
call trees it observes.

It reads a TOML configuration describing the target binary, the debugger
backend to drive it with, and the directory of seed inputs to trace. Each
seed is run through the Tracer Loop (a bounded number of fresh launches on
debugger failures, and one re-trace on an inconsistent tree), the resulting raw call tree is
turned into a well-formed parse tree by the Tree Annotator, and the Grammar
Inducer folds every seed's tree into one grammar, written to the
configured output directory once tracing completes.

Usage:

	gminer [flags]

The flags are:

	-v, --version
		Give the current version of gminer and then exit.

	-c, --config FILE
		Use the provided TOML configuration file. Defaults to "gminer.toml"
		in the current working directory.

	-o, --output DIR
		Override the configured output_directory.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/pflag"

	"github.com/dekarrin/gdbminer/internal/adapter"
	"github.com/dekarrin/gdbminer/internal/annotator"
	"github.com/dekarrin/gdbminer/internal/config"
	"github.com/dekarrin/gdbminer/internal/miner"
	"github.com/dekarrin/gdbminer/internal/mlog"
	"github.com/dekarrin/gdbminer/internal/mmerr"
	"github.com/dekarrin/gdbminer/internal/oracle"
	"github.com/dekarrin/gdbminer/internal/statusserver"
	"github.com/dekarrin/gdbminer/internal/store"
	"github.com/dekarrin/gdbminer/internal/tracer"
	"github.com/dekarrin/gdbminer/internal/types"
	"github.com/dekarrin/gdbminer/internal/version"
)

const (
	// ExitSuccess indicates every seed traced and the grammar was written.
	ExitSuccess = iota

	// ExitConfigError indicates a problem loading or validating the
	// configuration file.
	ExitConfigError

	// ExitTraceError indicates at least one seed could not be read, traced,
	// or annotated, even after the bounded retries. A truncated trace is not
	// a failure.
	ExitTraceError

	// ExitMinerError indicates a problem writing the run's output
	// artifacts.
	ExitMinerError
)

var (
	returnCode     int     = ExitSuccess
	flagVersion    *bool   = pflag.BoolP("version", "v", false, "Gives the version info")
	configFile     *string = pflag.StringP("config", "c", "gminer.toml", "The TOML configuration file describing the run")
	outputOverride *string = pflag.StringP("output", "o", "", "Override the configured output_directory")
	statusAddr     *string = pflag.String("status-addr", "", "Serve live run progress on this loopback address (e.g. 127.0.0.1:8090); disabled if empty")
)

func main() {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			panic(fmt.Sprintf("unrecoverable panic occurred: %v", panicErr))
		} else {
			os.Exit(returnCode)
		}
	}()

	pflag.Parse()

	if *flagVersion {
		fmt.Printf("%s\n", version.Current)
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		returnCode = ExitConfigError
		return
	}
	if *outputOverride != "" {
		cfg.OutputDirectory = *outputOverride
	}

	log := mlog.New(mlog.ParseLevel(cfg.LogLevel))

	seeds, err := discoverSeeds(cfg.SeedDirectory)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		returnCode = ExitConfigError
		return
	}

	st, err := store.Open(cfg.OutputDirectory)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		returnCode = ExitMinerError
		return
	}
	defer st.Close()

	back, err := newBackend(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		returnCode = ExitConfigError
		return
	}

	watchpointCount := cfg.WatchpointCount
	if watchpointCount < 0 {
		watchpointCount = back.WatchpointCapacity()
	} else if watchpointCount > back.WatchpointCapacity() {
		watchpointCount = back.WatchpointCapacity()
	}

	callSiteMode := oracle.FunctionOnly
	if cfg.CallSiteQualification == config.CallSiteFunctionAndCall {
		callSiteMode = oracle.FunctionAndCallSite
	}

	m := miner.New(types.CallSiteKey{Function: cfg.Entrypoint})

	tracker := statusserver.NewTracker(len(seeds))
	tracker.Start()
	if *statusAddr != "" {
		srv := &http.Server{Addr: *statusAddr, Handler: statusserver.Router(tracker)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warningf("status server: %s", err)
			}
		}()
		defer srv.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.TimeoutSeconds)*time.Second*time.Duration(len(seeds)+1))
	defer cancel()

	traceFailed := false
	for _, seedName := range seeds {
		tracker.SetSeed(statusserver.SeedStatus{Name: seedName, State: "running"})

		seedPath := filepath.Join(cfg.SeedDirectory, seedName)
		seedBytes, err := os.ReadFile(seedPath)
		if err != nil {
			log.Errorf("seed %s: cannot read: %s", seedName, err)
			traceFailed = true
			tracker.SetSeed(statusserver.SeedStatus{Name: seedName, State: "failed", ErrorText: err.Error()})
			continue
		}

		args, stdin := inputChannelArgs(cfg, seedPath, seedBytes)

		o, err := oracle.New(back, cfg.IgnoreFunctionsRegex, callSiteMode)
		if err != nil {
			log.Errorf("seed %s: %s", seedName, err)
			traceFailed = true
			tracker.SetSeed(statusserver.SeedStatus{Name: seedName, State: "failed", ErrorText: err.Error()})
			continue
		}

		tr := tracer.New(back, o, log, tracer.Options{
			Entrypoint:        cfg.Entrypoint,
			ExitpointSymbol:   cfg.Exitpoint,
			InputBufferSymbol: cfg.InputBuffer,
			WatchpointCount:   watchpointCount,
			DelayPolicy:       cfg.DelayWP && !cfg.OriginalMimid,
			MaxRetries:        2,
		})

		started := time.Now()
		raw, err := tr.Run(ctx, cfg.BinaryFile, args, stdin, seedName, len(seedBytes))
		run := store.Run{SeedName: seedName, StartedAt: started, FinishedAt: time.Now()}
		if err != nil {
			kind, _ := mmerr.KindOf(err)
			run.ErrorKind = string(kind)
			run.ErrorText = err.Error()
			log.Errorf("seed %s: %s", seedName, err)
			traceFailed = true
			_ = st.RecordRun(run)
			tracker.SetSeed(statusserver.SeedStatus{Name: seedName, State: "failed", ErrorKind: run.ErrorKind, ErrorText: run.ErrorText})
			continue
		}

		trace, err := annotator.Annotate(raw, seedBytes, o.ShouldIgnore)
		if kind, _ := mmerr.KindOf(err); kind == mmerr.KindInconsistentTree {
			log.Warningf("seed %s: %s; retrying the trace once", seedName, err)
			raw, err = tr.Run(ctx, cfg.BinaryFile, args, stdin, seedName, len(seedBytes))
			if err == nil {
				trace, err = annotator.Annotate(raw, seedBytes, o.ShouldIgnore)
			}
		}
		if err != nil {
			kind, _ := mmerr.KindOf(err)
			run.ErrorKind = string(kind)
			run.ErrorText = err.Error()
			log.Errorf("seed %s: annotate: %s", seedName, err)
			traceFailed = true
			_ = st.RecordRun(run)
			tracker.SetSeed(statusserver.SeedStatus{Name: seedName, State: "failed", ErrorKind: run.ErrorKind, ErrorText: run.ErrorText})
			continue
		}

		if err := st.SaveTrace(trace); err != nil {
			log.Warningf("seed %s: could not persist trace: %s", seedName, err)
		}

		m.Ingest(trace)
		run.Success = true
		if err := st.RecordRun(run); err != nil {
			log.Warningf("seed %s: could not record run: %s", seedName, err)
		}
		tracker.SetSeed(statusserver.SeedStatus{Name: seedName, State: "done"})
	}

	grammar := m.Grammar()
	grammar.PruneUnreachable()
	if err := st.SaveGrammar(grammar, "parsing_g.json"); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err.Error())
		returnCode = ExitMinerError
		return
	}

	if traceFailed {
		returnCode = ExitTraceError
	}
}

// discoverSeeds returns the names of every file directly under dir, sorted
// lexically so seeds are traced in their lexical file order regardless of
// directory-read order.
func discoverSeeds(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, mmerr.ConfigInvalid("seed_directory", fmt.Sprintf("cannot list %q: %s", dir, err))
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// inputChannelArgs prepares the program arguments and/or stdin bytes for
// one seed according to the configured "input_channel". The serial channel
// gets the same argument shape as the file channel; no backend writes the
// seed over the configured serial port.
func inputChannelArgs(cfg config.Config, seedPath string, seedBytes []byte) (args []string, stdin []byte) {
	switch cfg.InputChannel {
	case config.ChannelStdin:
		return nil, seedBytes
	default: // ChannelFile, ChannelSerial
		return []string{seedPath}, nil
	}
}

// newBackend constructs the Debugger Adapter selected by cfg.Instance
//.
func newBackend(cfg config.Config) (adapter.Adapter, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	capacity := cfg.WatchpointCount
	if capacity < 0 {
		capacity = 4
	}

	switch cfg.Instance {
	case config.InstanceDirect:
		return adapter.NewDirectBackend(cfg.GdbPath, timeout, capacity), nil
	case config.InstanceMemorySandbox:
		inner := adapter.NewDirectBackend(cfg.GdbPath, timeout, capacity)
		return adapter.NewMemorySandboxBackend(inner, 1<<20), nil
	case config.InstanceOnChip:
		return adapter.NewOnChipBackend(cfg.GdbPath, timeout, cfg.GdbServerAddress, capacity), nil
	default:
		return nil, mmerr.ConfigInvalid("instance", fmt.Sprintf("unrecognized instance %q", cfg.Instance))
	}
}
