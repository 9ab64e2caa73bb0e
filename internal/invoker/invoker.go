// Package invoker shells out to the Modal CLI and captures its combined
// output. It never interprets that output as JSON; separating "did the call
// succeed" from "was the payload well-formed" is the whole point, and the
// latter belongs to the payload package.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/citybrain/modal-bridge/internal/models"
)

const (
	defaultBinary     = "modal"
	defaultEntrypoint = "citybrain/modal_app.py::get_scenario_insights"
	defaultAppName    = "city-brain-urban-planning"
	defaultTimeout    = 300 * time.Second
	probeTimeout      = 10 * time.Second
)

// Invoker runs the deployed Modal function for a query and probes the Modal
// CLI for the status endpoint.
type Invoker struct {
	binary     string
	entrypoint string
	appName    string
	timeout    time.Duration
	tracer     trace.Tracer
}

// New creates an Invoker configured from the environment.
func New() *Invoker {
	binary := os.Getenv("MODAL_BINARY")
	if binary == "" {
		binary = defaultBinary
	}

	entrypoint := os.Getenv("MODAL_ENTRYPOINT")
	if entrypoint == "" {
		entrypoint = defaultEntrypoint
		log.Printf("WARN: MODAL_ENTRYPOINT not set, defaulting to %s", entrypoint)
	}

	appName := os.Getenv("MODAL_APP_NAME")
	if appName == "" {
		appName = defaultAppName
	}

	timeout := defaultTimeout
	if raw := os.Getenv("MODAL_TIMEOUT_SECONDS"); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			timeout = time.Duration(seconds) * time.Second
		} else {
			log.Printf("WARN: invalid MODAL_TIMEOUT_SECONDS %q, keeping %s", raw, timeout)
		}
	}

	return &Invoker{
		binary:     binary,
		entrypoint: entrypoint,
		appName:    appName,
		timeout:    timeout,
		tracer:     otel.Tracer("modal-invoker"),
	}
}

// SetBinary overrides the Modal binary for testing purposes.
func (i *Invoker) SetBinary(binary string) {
	i.binary = binary
}

// SetTimeout overrides the run timeout for testing purposes.
func (i *Invoker) SetTimeout(timeout time.Duration) {
	i.timeout = timeout
}

// AppName returns the Modal app name this invoker checks for.
func (i *Invoker) AppName() string {
	return i.appName
}

// Invoke runs the Modal function with the query and returns the combined
// stdout/stderr text. A missing CLI, non-zero exit, or timeout comes back as
// a *models.TransportError.
func (i *Invoker) Invoke(ctx context.Context, query string) (*models.RawOutput, error) {
	ctx, span := i.tracer.Start(ctx, "modal.invoke")
	defer span.End()

	span.SetAttributes(
		attribute.String("modal.entrypoint", i.entrypoint),
		attribute.Int("query.length", len(query)),
	)

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, i.binary, "run", i.entrypoint, "--user-query", query)
	output, err := cmd.CombinedOutput()
	text := string(output)

	span.SetAttributes(attribute.Int("output.length", len(text)))

	if ctx.Err() == context.DeadlineExceeded {
		terr := &models.TransportError{Reason: fmt.Sprintf("modal run timed out after %s", i.timeout)}
		span.RecordError(terr)
		return nil, terr
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			terr := &models.TransportError{
				Reason: fmt.Sprintf("modal run exited with status %d: %s", exitErr.ExitCode(), tail(text, 500)),
			}
			span.RecordError(terr)
			return nil, terr
		}
		terr := &models.TransportError{Reason: fmt.Sprintf("modal CLI not available: %v", err)}
		span.RecordError(terr)
		return nil, terr
	}

	return &models.RawOutput{Text: text, ExitCode: 0}, nil
}

// Version returns the Modal CLI version string.
func (i *Invoker) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, i.binary, "--version").CombinedOutput()
	if err != nil {
		return "", &models.TransportError{Reason: fmt.Sprintf("modal CLI not available: %v", err)}
	}
	return strings.TrimSpace(string(output)), nil
}

// AppDeployed reports whether the City Brain app shows up in `modal app
// list`, along with the raw listing for diagnostics.
func (i *Invoker) AppDeployed(ctx context.Context) (bool, string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, i.binary, "app", "list").CombinedOutput()
	listing := strings.TrimSpace(string(output))
	if err != nil {
		return false, listing, &models.TransportError{Reason: fmt.Sprintf("failed to list modal apps: %v", err)}
	}
	return strings.Contains(listing, i.appName), listing, nil
}

func tail(text string, max int) string {
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}
	return "..." + text[len(text)-max:]
}
