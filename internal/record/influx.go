package record

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/pingsantohq/reachcheck/pkg/types"
)

const influxMeasurement = "reachability"

type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Enabled reports whether enough settings are present to write points.
func (c InfluxConfig) Enabled() bool {
	return c.URL != "" && c.Bucket != ""
}

// InfluxRecorder writes one point per cycle to an InfluxDB v2 bucket.
type InfluxRecorder struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

func NewInfluxRecorder(cfg InfluxConfig) *InfluxRecorder {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxRecorder{client: client, write: client.WriteAPIBlocking(cfg.Org, cfg.Bucket)}
}

// Ping checks that the server is reachable and healthy.
func (r *InfluxRecorder) Ping(ctx context.Context) error {
	health, err := r.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health: %w", err)
	}
	if health.Status != "pass" {
		return fmt.Errorf("influxdb health check failed: %s", health.Status)
	}
	return nil
}

func (r *InfluxRecorder) Record(ctx context.Context, res types.CycleResult) error {
	point := influxdb2.NewPoint(influxMeasurement,
		map[string]string{
			"host":   res.Host,
			"status": string(res.Status),
		},
		map[string]interface{}{
			"sent":        res.Sent,
			"received":    res.Received,
			"packet_loss": res.LossPct,
			"rtt_avg":     float64(res.AvgRTT().Nanoseconds()) / 1e6,
		},
		res.Timestamp)
	if err := r.write.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("write influx point for %s: %w", res.Host, err)
	}
	return nil
}

func (r *InfluxRecorder) Close() error {
	r.client.Close()
	return nil
}
