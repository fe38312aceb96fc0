// Command powerplanectl is the operator-facing CLI spec.md §10.5 names:
// every subcommand opens a GlobalPolicy handle through pkg/cabi, applies
// one field, and either writes it back out or enforces it directly
// against local hardware. Flag wiring follows cmd/consumption/main.go's
// cobra conventions (one root command, flags bound straight into a
// local opts struct, RunE delegating to a plain function).
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/nodepower/powerplane/pkg/cabi"
	"github.com/nodepower/powerplane/pkg/errs"
	"github.com/nodepower/powerplane/pkg/platform"
	_ "github.com/nodepower/powerplane/pkg/platform/manycore"
	"github.com/spf13/cobra"
)

type rootOpts struct {
	policyPath string
	platformID string
}

func main() {
	var o rootOpts

	root := &cobra.Command{
		Use:   "powerplanectl",
		Short: "Operator CLI for the node power/performance control plane",
		Long: `powerplanectl edits and enforces a GlobalPolicy file or shared-memory
record without starting a powerplaned agent: create, set one or more
fields, then either write the result back out or enforce it immediately
against local hardware.

Examples:
  powerplanectl set-mode --policy /etc/powerplane/policy.json tdp_balance_static
  powerplanectl set-tdp --policy /etc/powerplane/policy.json 80
  powerplanectl enforce --policy /etc/powerplane/policy.json`,
	}
	root.PersistentFlags().StringVar(&o.policyPath, "policy", "", "GlobalPolicy descriptor: a JSON file path or a /shm-name")
	root.PersistentFlags().StringVar(&o.platformID, "platform", "manycore", "registered platform.Imp model id (see pkg/platform.Register)")
	_ = root.MarkPersistentFlagRequired("policy")

	root.AddCommand(
		newCreateCmd(&o),
		newSetModeCmd(&o),
		newSetBudgetCmd(&o),
		newSetFrequencyCmd(&o),
		newSetTDPCmd(&o),
		newSetAffinityCmd(&o),
		newWriteCmd(&o),
		newEnforceCmd(&o),
	)

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		var ce *codeError
		if errors.As(err, &ce) {
			os.Exit(int(ce.code))
		}
		os.Exit(1)
	}
}

// codeError carries an errs.Code through cobra's plain error-returning
// RunE signature so main can derive the process exit code from it
// (spec.md §10.5 "each a thin wrapper returning the process exit code
// derived from errs.Code").
type codeError struct {
	op   string
	code errs.Code
}

func (e *codeError) Error() string { return fmt.Sprintf("powerplanectl: %s: %s", e.op, e.code) }

// withHandle opens a read+write GlobalPolicy handle over o.policyPath,
// runs fn, and always destroys the handle before returning. Opening the
// handle does not read the file, so "create" works on a not-yet-existing
// output file; the set-* subcommands call cabi.Read themselves and
// ignore its error.
func withHandle(o *rootOpts, fn func(h cabi.Handle) errs.Code) error {
	h, code := cabi.Create(o.policyPath, o.policyPath)
	if code != 0 {
		return &codeError{op: "create", code: code}
	}
	defer cabi.Destroy(h)

	if code := fn(h); code != 0 {
		return &codeError{op: "apply", code: code}
	}
	return nil
}

func newCreateCmd(o *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a --policy record at full power (tdp_balance_static, 100%)",
		Long: `create writes an initial GlobalPolicy record so later set-* commands
have something to read-modify-write: an uncapped tdp_balance_static
policy at 100% TDP.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHandle(o, func(h cabi.Handle) errs.Code {
				if code := cabi.SetMode(h, "tdp_balance_static"); code != 0 {
					return code
				}
				if code := cabi.SetTDPPercent(h, 100); code != 0 {
					return code
				}
				return cabi.Write(h)
			})
		},
	}
}

func newSetModeCmd(o *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "set-mode <mode>",
		Short: "Set the control mode and write it back to --policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHandle(o, func(h cabi.Handle) errs.Code {
				_ = cabi.Read(h) // best-effort: preserve other fields already on disk
				if code := cabi.SetMode(h, args[0]); code != 0 {
					return code
				}
				return cabi.Write(h)
			})
		},
	}
}

func newSetBudgetCmd(o *rootOpts) *cobra.Command {
	var watts float64
	cmd := &cobra.Command{
		Use:   "set-budget <watts>",
		Short: "Set the power budget field and write it back to --policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := fmt.Sscanf(args[0], "%f", &watts); err != nil {
				return fmt.Errorf("powerplanectl: invalid watts %q: %w", args[0], err)
			}
			return withHandle(o, func(h cabi.Handle) errs.Code {
				_ = cabi.Read(h)
				if code := cabi.SetBudgetWatts(h, watts); code != 0 {
					return code
				}
				return cabi.Write(h)
			})
		},
	}
	return cmd
}

func newSetFrequencyCmd(o *rootOpts) *cobra.Command {
	var mhz int
	cmd := &cobra.Command{
		Use:   "set-frequency <mhz>",
		Short: "Set the frequency field (quantized to 100MHz) and write it back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := fmt.Sscanf(args[0], "%d", &mhz); err != nil {
				return fmt.Errorf("powerplanectl: invalid mhz %q: %w", args[0], err)
			}
			return withHandle(o, func(h cabi.Handle) errs.Code {
				_ = cabi.Read(h)
				if code := cabi.SetFrequencyMHz(h, mhz); code != 0 {
					return code
				}
				return cabi.Write(h)
			})
		},
	}
	return cmd
}

func newSetTDPCmd(o *rootOpts) *cobra.Command {
	var percent int
	cmd := &cobra.Command{
		Use:   "set-tdp <percent>",
		Short: "Set the TDP percentage field and write it back to --policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := fmt.Sscanf(args[0], "%d", &percent); err != nil {
				return fmt.Errorf("powerplanectl: invalid percent %q: %w", args[0], err)
			}
			return withHandle(o, func(h cabi.Handle) errs.Code {
				_ = cabi.Read(h)
				if code := cabi.SetTDPPercent(h, percent); code != 0 {
					return code
				}
				return cabi.Write(h)
			})
		},
	}
	return cmd
}

func newSetAffinityCmd(o *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "set-affinity <compact|scatter>",
		Short: "Set the max-perf CPU affinity field and write it back to --policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHandle(o, func(h cabi.Handle) errs.Code {
				_ = cabi.Read(h)
				if code := cabi.SetAffinity(h, args[0]); code != 0 {
					return code
				}
				return cabi.Write(h)
			})
		},
	}
}

func newWriteCmd(o *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "write",
		Short: "Re-publish --policy's currently loaded fields to its output descriptor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHandle(o, func(h cabi.Handle) errs.Code {
				if code := cabi.Read(h); code != 0 {
					return code
				}
				return cabi.Write(h)
			})
		},
	}
}

func newEnforceCmd(o *rootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "enforce",
		Short: "Apply --policy's static-mode fields directly to local hardware",
		Long: `enforce bypasses the Controller/Decider tree entirely: it opens the
local platform.Imp, reads --policy, and calls EnforceStaticMode. Only
the three static modes (tdp_balance_static, freq_uniform_static,
freq_hybrid_static) are valid here; a dynamic-mode policy needs a
running powerplaned tree instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			imp, err := platform.New(o.platformID)
			if err != nil {
				return err
			}
			plat, err := platform.Open(imp)
			if err != nil {
				return err
			}
			defer plat.Close()

			return withHandle(o, func(h cabi.Handle) errs.Code {
				if code := cabi.Read(h); code != 0 {
					return code
				}
				return cabi.Enforce(h, plat)
			})
		},
	}
}
