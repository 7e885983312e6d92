// Package cleanup tears down endpoints one at a time, with a confirmation
// gate for bulk deletion and partial-failure accounting. A failed deletion
// never aborts the rest of a bulk run: cleanup coverage wins over
// fail-fast.
package cleanup

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"smctl/lib/endpoint"
	"smctl/record"
)

// Confirmer gates bulk deletion. Proceed only when Confirm returns true.
type Confirmer interface {
	Confirm(names []string) bool
}

// AutoApprove skips the confirmation gate, for non-interactive callers.
type AutoApprove struct{}

var _ Confirmer = AutoApprove{}

func (AutoApprove) Confirm([]string) bool { return true }

// TerminalConfirmer requires the operator to type "yes".
type TerminalConfirmer struct {
	In  io.Reader
	Out io.Writer
}

var _ Confirmer = TerminalConfirmer{}

func (t TerminalConfirmer) Confirm(names []string) bool {
	fmt.Fprintf(t.Out, "This will delete %d endpoint(s):\n", len(names))
	for _, name := range names {
		fmt.Fprintf(t.Out, "  - %s\n", name)
	}
	fmt.Fprint(t.Out, "\nAre you sure? (type 'yes' to confirm): ")
	scanner := bufio.NewScanner(t.In)
	if !scanner.Scan() {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(scanner.Text()), "yes")
}

// Outcome reports a bulk deletion. OK is true iff every attempted deletion
// succeeded; Attempted and Succeeded distinguish partial success.
type Outcome struct {
	Attempted int
	Succeeded int
	OK        bool
}

func (o Outcome) String() string {
	return fmt.Sprintf("%d/%d", o.Succeeded, o.Attempted)
}

type Manager struct {
	registry endpoint.Registry
	logger   *zap.Logger
}

func NewManager(registry endpoint.Registry, logger *zap.Logger) Manager {
	return Manager{registry: registry, logger: logger}
}

// ListAll returns every endpoint the platform reports.
func (m Manager) ListAll(ctx context.Context) ([]endpoint.Descriptor, error) {
	return m.registry.ListEndpoints(ctx, 0)
}

// DeleteOne deletes the endpoint and, when deleteConfig is set, its config.
// Returns true iff the endpoint itself was deleted; config deletion is
// best-effort and only logged, since the endpoint is already gone and a
// stray config costs nothing.
func (m Manager) DeleteOne(ctx context.Context, name string, deleteConfig bool) bool {
	m.logger.Info("deleting endpoint", zap.String("endpoint", name))
	if err := m.registry.DeleteEndpoint(ctx, name); err != nil {
		if endpoint.IsNotFound(err) {
			// Another process got there first; the endpoint is gone either
			// way.
			m.logger.Info("endpoint already gone", zap.String("endpoint", name))
		} else {
			m.logger.Error("failed to delete endpoint", zap.String("endpoint", name), zap.Error(err))
			return false
		}
	}
	if deleteConfig {
		if err := m.registry.DeleteConfig(ctx, name); err != nil {
			m.logger.Warn("could not delete endpoint config",
				zap.String("config", name), zap.Error(err))
		} else {
			m.logger.Info("endpoint config deleted", zap.String("config", name))
		}
	}
	return true
}

// DeleteAll deletes every listed endpoint sequentially, in listing order.
// An empty endpoint set succeeds trivially without confirmation. Declining
// the confirmation aborts with zero deletions. Individual failures do not
// stop the run.
func (m Manager) DeleteAll(ctx context.Context, confirm Confirmer) (Outcome, error) {
	endpoints, err := m.ListAll(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if len(endpoints) == 0 {
		m.logger.Info("no endpoints to delete")
		return Outcome{OK: true}, nil
	}
	names := make([]string, len(endpoints))
	for i, ep := range endpoints {
		names[i] = ep.Name
	}
	if !confirm.Confirm(names) {
		m.logger.Info("deletion cancelled")
		return Outcome{Attempted: 0, Succeeded: 0, OK: false}, nil
	}
	out := Outcome{Attempted: len(endpoints)}
	for _, ep := range endpoints {
		if m.DeleteOne(ctx, ep.Name, true) {
			out.Succeeded++
		}
	}
	out.OK = out.Succeeded == out.Attempted
	m.logger.Info("bulk deletion finished",
		zap.Int("succeeded", out.Succeeded), zap.Int("attempted", out.Attempted))
	return out, nil
}

// DeleteFromRecord reads a lifecycle record and deletes the endpoint it
// names. A missing or empty record fails without attempting any deletion. A
// record whose endpoint is already absent remotely reports not-found rather
// than silent success, so stale records surface instead of masking.
func (m Manager) DeleteFromRecord(ctx context.Context, path string) error {
	rec, err := record.Load(path)
	if err != nil {
		return err
	}
	if err := m.registry.DeleteEndpoint(ctx, rec.EndpointName); err != nil {
		if endpoint.IsNotFound(err) {
			return fmt.Errorf("%w: endpoint %s from record %s no longer exists",
				endpoint.ErrNotFound, rec.EndpointName, path)
		}
		return err
	}
	if err := m.registry.DeleteConfig(ctx, rec.EndpointName); err != nil {
		m.logger.Warn("could not delete endpoint config",
			zap.String("config", rec.EndpointName), zap.Error(err))
	}
	return nil
}
