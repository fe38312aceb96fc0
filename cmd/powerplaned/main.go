// Command powerplaned is the per-job agent spec.md §4.7's Controller.run
// is meant to live inside: it builds a tree of Controllers, one per
// rank, and drives each with its own goroutine under a shared
// cancellable context. Because SPEC_FULL.md §11 scopes tree.Fabric to
// an in-process transport only (no wire protocol is built here), a
// single powerplaned process simulates every rank of a --size job as a
// goroutine sharing one Fabric — the same shape cmd/consumption/main.go
// uses for its ticker/signal-context run loop, just with N concurrent
// copies of it instead of one.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nodepower/powerplane/pkg/controller"
	"github.com/nodepower/powerplane/pkg/platform"
	_ "github.com/nodepower/powerplane/pkg/platform/manycore"
	"github.com/nodepower/powerplane/pkg/policy"
	"github.com/nodepower/powerplane/pkg/tree"
	"github.com/nodepower/powerplane/pkg/types"
	"github.com/spf13/cobra"
)

type opts struct {
	size       int
	fanOut     int
	platformID string
	regionID   uint64
	period     time.Duration
	policyIn   string
	policyOut  string
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "powerplaned",
		Short: "Per-node/per-job power and performance control plane agent",
		Long: `powerplaned builds a tree.Topology over --size ranks, a controller.
Controller per rank, and drives every rank's control loop until
SIGINT/SIGTERM, at which point it drains a shutdown policy down the
whole tree before exiting.

The rank-0 controller is the tree's root: it owns --policy-in/--policy-out
and seeds every control period's policy from there.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o)
		},
	}

	root.Flags().IntVar(&o.size, "size", 1, "number of simulated ranks in this job")
	root.Flags().IntVar(&o.fanOut, "fanout", tree.DefaultFanOut, "per-level tree fanout")
	root.Flags().StringVar(&o.platformID, "platform", "manycore", "registered platform.Imp model id")
	root.Flags().Uint64Var(&o.regionID, "region-id", 1, "default region_id for whole-job power control")
	root.Flags().DurationVar(&o.period, "period", controller.DefaultPeriod, "control-period length")
	root.Flags().StringVar(&o.policyIn, "policy-in", "", "root GlobalPolicy input descriptor (file path or /shm-name)")
	root.Flags().StringVar(&o.policyOut, "policy-out", "", "root GlobalPolicy output descriptor")

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, o opts) error {
	if o.size < 1 {
		return fmt.Errorf("powerplaned: --size must be >= 1")
	}

	imp, err := platform.New(o.platformID)
	if err != nil {
		return err
	}
	plat, err := platform.Open(imp)
	if err != nil {
		return err
	}
	defer plat.Close()

	var globalPolicy *policy.GlobalPolicy
	if o.policyIn != "" || o.policyOut != "" {
		globalPolicy, err = policy.New(o.policyIn, o.policyOut)
		if err != nil {
			return err
		}
		defer globalPolicy.Close()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	controllers, err := buildControllers(o, plat, globalPolicy)
	if err != nil {
		return err
	}

	slog.Info("powerplaned starting", "size", o.size, "platform", o.platformID, "period", o.period)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reportBandwidth(ctx, plat, o.period)
	}()

	errCh := make(chan error, len(controllers))
	for rank, c := range controllers {
		wg.Add(1)
		go func(rank int, c *controller.Controller) {
			defer wg.Done()
			if err := c.Run(ctx); err != nil {
				errCh <- fmt.Errorf("rank %d: %w", rank, err)
			}
		}(rank, c)
	}
	wg.Wait()
	close(errCh)

	var firstErr error
	for err := range errCh {
		slog.Error("controller exited with error", "err", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	slog.Info("powerplaned stopped")
	return firstErr
}

// reportBandwidth logs the package-domain memory read bandwidth
// (spec.md §3 "read-bandwidth bytes") once per period, humanized. This
// is a diagnostic side channel only: bandwidth never feeds a Decider
// and is therefore not threaded through wire.SampleMessage up the tree,
// just sampled and logged locally the way cmd/consumption/main.go's
// ticker loop reports read/write bytes.
func reportBandwidth(ctx context.Context, plat *platform.Platform, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s, err := plat.SampleDomain(platform.DomainPackage, 0)
			if err != nil {
				slog.Warn("bandwidth sample error", "err", err)
				continue
			}
			slog.Info("read bandwidth", "rate", types.Bytes(s.ReadBandwidthBytes).Humanized())
		}
	}
}

// buildControllers constructs one Controller per rank. A --size 1 job
// is the degenerate leaf-and-root-in-one deployment (no Topology/
// Communicator); --size>1 shares one Fabric across every rank's
// Communicator, simulating the tree in-process.
func buildControllers(o opts, plat *platform.Platform, globalPolicy *policy.GlobalPolicy) ([]*controller.Controller, error) {
	numPackage := plat.NumDomain(platform.ControlTypePackagePower)
	if numPackage < 1 {
		numPackage = 1
	}

	if o.size == 1 {
		c, err := controller.New(controller.Config{
			Platform:      plat,
			Domain:        platform.DomainPackage,
			DomainIndex:   0,
			IsRoot:        true,
			GlobalPolicy:  globalPolicy,
			DefaultRegion: o.regionID,
			Period:        o.period,
		})
		if err != nil {
			return nil, err
		}
		return []*controller.Controller{c}, nil
	}

	fanOut := tree.FanOutSchedule(o.size, o.fanOut)
	fabric := tree.NewFabric(fanOut)

	topos := make([]*tree.Topology, o.size)
	comms := make([]*tree.Communicator, o.size)
	for rank := 0; rank < o.size; rank++ {
		topos[rank] = tree.NewTopology(rank, o.size, fanOut)
		comms[rank] = tree.NewCommunicator(topos[rank], fabric)
		fabric.Join(rank, comms[rank])
	}

	controllers := make([]*controller.Controller, o.size)
	for rank := 0; rank < o.size; rank++ {
		isRoot := rank == 0
		var gp *policy.GlobalPolicy
		if isRoot {
			gp = globalPolicy
		}
		c, err := controller.New(controller.Config{
			Topology:      topos[rank],
			Communicator:  comms[rank],
			Platform:      plat,
			Domain:        platform.DomainPackage,
			DomainIndex:   rank % numPackage,
			IsRoot:        isRoot,
			GlobalPolicy:  gp,
			DefaultRegion: o.regionID,
			Period:        o.period,
			Logger:        slog.Default().With("rank", rank),
		})
		if err != nil {
			return nil, err
		}
		controllers[rank] = c
	}
	return controllers, nil
}
