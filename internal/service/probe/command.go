package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/oshokin/drowsy-alarm/internal/api/grpc/liveness"
	"github.com/oshokin/drowsy-alarm/internal/config"
	"github.com/oshokin/drowsy-alarm/internal/logger"
	"github.com/oshokin/drowsy-alarm/internal/service/common"
)

// Options controls a probe run.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// Address overrides the status address from the settings.
	Address string
	// Service is the health service to query.
	Service string
	// Timeout specifies the per-RPC timeout duration.
	Timeout time.Duration
	// Watch keeps polling and prints every status change.
	Watch bool
	// Interval is the polling period in watch mode.
	Interval time.Duration
	// JSON prints the raw health response as JSON.
	JSON bool
	// Output receives the report. Defaults to stdout.
	Output io.Writer
	// DialOptions are passed to the gRPC client.
	DialOptions []grpc.DialOption
}

// DefaultInterval is the watch mode polling period.
const DefaultInterval = time.Second

var (
	// ErrNotServing is returned when the detection loop is not alive.
	ErrNotServing = errors.New("monitor is not serving")
	// errNoStatusAddress is returned when neither settings nor flags name an address.
	errNoStatusAddress = errors.New("no status address configured")
)

// Run checks the monitor once, or keeps watching it until ctx is canceled.
// A one-shot check that does not report SERVING returns ErrNotServing.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "drowsy-probe")

	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	address := settings.Status.ListenAddress
	if opts.Address != "" {
		address = opts.Address
	}

	if address == "" {
		return errNoStatusAddress
	}

	service := opts.Service
	if service == "" {
		service = liveness.ServiceName
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}

	output := opts.Output
	if output == nil {
		output = os.Stdout
	}

	client, err := common.Dial(ctx, address,
		common.WithCallTimeout(timeout),
		common.WithDialOptions(opts.DialOptions...),
	)
	if err != nil {
		return fmt.Errorf("dial monitor: %w", err)
	}

	defer func() {
		_ = client.Close()
	}()

	r := &reporter{client: client, service: service, output: output, json: opts.JSON}

	if !opts.Watch {
		return r.once(ctx)
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	logger.InfoKV(ctx, "Watching monitor", "address", address, "interval", interval.String())

	return r.watch(ctx, interval)
}

// reporter performs checks and prints their results.
type reporter struct {
	client  *common.Client
	service string
	output  io.Writer
	json    bool

	last healthpb.HealthCheckResponse_ServingStatus
}

// once performs a single check.
func (r *reporter) once(ctx context.Context) error {
	resp, err := r.client.Check(ctx, r.service)
	if err != nil {
		return err
	}

	if err = r.print(resp); err != nil {
		return err
	}

	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", ErrNotServing, resp.GetStatus())
	}

	return nil
}

// watch polls until ctx is canceled, printing status changes.
func (r *reporter) watch(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		resp, err := r.client.Check(ctx, r.service)

		switch {
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			logger.WarnKV(ctx, "Health check failed", "error", err)

			r.last = healthpb.HealthCheckResponse_UNKNOWN
		case resp.GetStatus() != r.last:
			r.last = resp.GetStatus()

			if err = r.print(resp); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// print writes one response as text or JSON.
func (r *reporter) print(resp *healthpb.HealthCheckResponse) error {
	if !r.json {
		_, err := fmt.Fprintln(r.output, resp.GetStatus().String())

		return err
	}

	data, err := protojson.MarshalOptions{EmitUnpopulated: true}.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	_, err = fmt.Fprintln(r.output, string(data))

	return err
}
