package machine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fly-apps/machine-scheduler/internal/cron"
	"github.com/sirupsen/logrus"
	fly "github.com/superfly/fly-go"
	"github.com/superfly/fly-go/flaps"
	"github.com/superfly/fly-go/tokens"
)

// flapsAPI is the subset of the flaps client the controller needs.
type flapsAPI interface {
	Get(ctx context.Context, machineID string) (*fly.Machine, error)
	Start(ctx context.Context, machineID string, nonce string) (*fly.MachineStartResponse, error)
	Stop(ctx context.Context, in fly.StopMachineInput, nonce string) error
	Update(ctx context.Context, builder fly.LaunchMachineInput, nonce string) (*fly.Machine, error)
	Exec(ctx context.Context, machineID string, in *fly.MachineExecRequest) (*fly.MachineExecResponse, error)
}

// Client controls a single Fly Machine. It implements both cron.Controller
// and cron.CommandRunner.
type Client struct {
	appName   string
	machineID string
	flaps     flapsAPI
	log       *logrus.Logger
}

func NewClient(ctx context.Context, appName, machineID, token string, log *logrus.Logger) (*Client, error) {
	flapsClient, err := flaps.NewWithOptions(ctx, flaps.NewClientOpts{
		AppName: appName,
		Tokens: &tokens.Tokens{
			UserTokens: []string{token},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create flaps client: %w", err)
	}

	return newClient(appName, machineID, flapsClient, log), nil
}

func newClient(appName, machineID string, api flapsAPI, log *logrus.Logger) *Client {
	return &Client{
		appName:   appName,
		machineID: machineID,
		flaps:     api,
		log:       log,
	}
}

// Start boots the machine, resizing it first when profile names a different
// guest. Starting a machine that is already started is a no-op.
func (c *Client) Start(ctx context.Context, profile string) error {
	machine, err := c.get(ctx)
	if err != nil {
		return err
	}

	if profile != "" {
		guest, err := GuestForProfile(profile)
		if err != nil {
			return err
		}
		if !sameGuest(machine.Config, guest) {
			machine, err = c.resize(ctx, machine, guest)
			if err != nil {
				return err
			}
		}
	}

	if NormalizeState(machine.State) == cron.StatusRunning {
		return nil
	}

	if _, err := c.flaps.Start(ctx, c.machineID, ""); err != nil {
		return fmt.Errorf("failed to start machine %s: %w", c.machineID, err)
	}
	return nil
}

// Stop halts the machine. Stopping a stopped machine is a no-op.
func (c *Client) Stop(ctx context.Context) error {
	machine, err := c.get(ctx)
	if err != nil {
		return err
	}
	if NormalizeState(machine.State) == cron.StatusStopped {
		return nil
	}

	if err := c.flaps.Stop(ctx, fly.StopMachineInput{ID: c.machineID}, ""); err != nil {
		return fmt.Errorf("failed to stop machine %s: %w", c.machineID, err)
	}
	return nil
}

func (c *Client) Status(ctx context.Context) (cron.Status, error) {
	machine, err := c.get(ctx)
	if err != nil {
		return cron.StatusUnknown, err
	}
	return NormalizeState(machine.State), nil
}

// Uptime returns the output of `uptime -p` on the machine, e.g.
// "up 2 hours, 30 minutes".
func (c *Client) Uptime(ctx context.Context) (string, error) {
	res := c.Run(ctx, "uptime -p", 30*time.Second)
	if !res.Success {
		return "", fmt.Errorf("uptime failed with code %d: %s", res.ReturnCode, strings.TrimSpace(res.Stderr))
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Run executes command on the machine. Transport failures are reported with
// return code -1.
func (c *Client) Run(ctx context.Context, command string, timeout time.Duration) cron.CommandResult {
	secs := int(timeout / time.Second)
	if secs <= 0 {
		secs = 1
	}

	resp, err := c.flaps.Exec(ctx, c.machineID, &fly.MachineExecRequest{
		Cmd:     command,
		Timeout: secs,
	})
	if err != nil {
		c.log.WithError(err).WithField("command", command).Debug("exec failed")
		return cron.CommandResult{Success: false, Stderr: err.Error(), ReturnCode: -1}
	}

	return normalizeExec(resp)
}

func (c *Client) get(ctx context.Context) (*fly.Machine, error) {
	machine, err := c.flaps.Get(ctx, c.machineID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get machine %s: %s", cron.ErrControllerUnavailable, c.machineID, err)
	}
	if machine == nil {
		return nil, fmt.Errorf("%w: machine %s not found", cron.ErrControllerUnavailable, c.machineID)
	}
	return machine, nil
}

func (c *Client) resize(ctx context.Context, machine *fly.Machine, guest *fly.MachineGuest) (*fly.Machine, error) {
	cfg := fly.MachineConfig{}
	if machine.Config != nil {
		cfg = *machine.Config
	}
	cfg.Guest = guest

	c.log.WithFields(logrus.Fields{
		"machine-id": c.machineID,
		"cpu-kind":   guest.CPUKind,
		"cpus":       guest.CPUs,
		"memory-mb":  guest.MemoryMB,
	}).Info("updating machine guest...")

	updated, err := c.flaps.Update(ctx, fly.LaunchMachineInput{
		ID:     c.machineID,
		Region: machine.Region,
		Config: &cfg,
	}, "")
	if err != nil {
		return nil, fmt.Errorf("failed to update machine %s: %w", c.machineID, err)
	}
	if updated == nil {
		return machine, nil
	}
	return updated, nil
}

// NormalizeState maps a Machines API state onto the core status set.
func NormalizeState(state string) cron.Status {
	switch state {
	case fly.MachineStateStarted:
		return cron.StatusRunning
	case fly.MachineStateStopped, fly.MachineStateCreated, "suspended":
		return cron.StatusStopped
	case "starting", "replacing", "updating":
		return cron.StatusStarting
	case "stopping", "suspending", "destroying":
		return cron.StatusStopping
	case fly.MachineStateDestroyed, "failed":
		return cron.StatusError
	default:
		return cron.StatusUnknown
	}
}

func normalizeExec(resp *fly.MachineExecResponse) cron.CommandResult {
	if resp == nil {
		return cron.CommandResult{Success: false, Stderr: "empty exec response", ReturnCode: -1}
	}
	code := int(resp.ExitCode)
	return cron.CommandResult{
		Success:    code == 0,
		Stdout:     resp.StdOut,
		Stderr:     resp.StdErr,
		ReturnCode: code,
	}
}
