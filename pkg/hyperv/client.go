// Package hyperv drives the Hyper-V host through PowerShell. All mutation
// goes through small typed operations so the generated scripts can be
// asserted in tests with a fake runner.
package hyperv

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/r11/hyperv-commander/pkg/metrics"
)

type Client struct {
	runner Runner
	log    zerolog.Logger
}

// NewClient wraps a host runner.
func NewClient(runner Runner) *Client {
	return &Client{
		runner: runner,
		log:    log.With().Str("component", "hyperv").Logger(),
	}
}

func (c *Client) Close() error {
	return c.runner.Close()
}

func (c *Client) run(ctx context.Context, script string) (string, error) {
	c.log.Debug().Str("script", script).Msg("host exec")
	start := time.Now()
	output, err := c.runner.Run(ctx, script)
	metrics.HostCommandDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.log.Debug().Err(err).Msg("host exec failed")
	}
	return output, err
}

// decodeJSON handles ConvertTo-Json collapsing single-element results into
// a bare object instead of an array.
func decodeJSON(output string, dest interface{}) error {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return nil
	}
	if strings.HasPrefix(trimmed, "{") {
		trimmed = "[" + trimmed + "]"
	}
	if err := json.Unmarshal([]byte(trimmed), dest); err != nil {
		return fmt.Errorf("failed to parse host output: %w", err)
	}
	return nil
}
