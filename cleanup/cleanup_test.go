package cleanup

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smctl/lib/endpoint"
	"smctl/record"
)

type fakeRegistry struct {
	endpoints       []endpoint.Descriptor
	failEndpoints   map[string]bool
	failConfigs     map[string]bool
	deleted         []string
	deletedConfigs  []string
	deleteAttempted []string
}

func (f *fakeRegistry) ListEndpoints(ctx context.Context, max int) ([]endpoint.Descriptor, error) {
	return f.endpoints, nil
}

func (f *fakeRegistry) DescribeConfig(ctx context.Context, name string) (endpoint.Config, error) {
	return endpoint.Config{Name: name}, nil
}

func (f *fakeRegistry) CreateEndpoint(ctx context.Context, spec endpoint.Spec) (endpoint.Descriptor, error) {
	panic("not used")
}

func (f *fakeRegistry) DeleteEndpoint(ctx context.Context, name string) error {
	f.deleteAttempted = append(f.deleteAttempted, name)
	if f.failEndpoints[name] {
		return fmt.Errorf("%w: failed to delete endpoint %s: throttled", endpoint.ErrClient, name)
	}
	for _, ep := range f.endpoints {
		if ep.Name == name {
			f.deleted = append(f.deleted, name)
			return nil
		}
	}
	return fmt.Errorf("%w: endpoint %s", endpoint.ErrNotFound, name)
}

func (f *fakeRegistry) DeleteConfig(ctx context.Context, name string) error {
	if f.failConfigs[name] {
		return fmt.Errorf("%w: failed to delete endpoint config %s: denied", endpoint.ErrClient, name)
	}
	f.deletedConfigs = append(f.deletedConfigs, name)
	return nil
}

func descriptors(names ...string) []endpoint.Descriptor {
	out := make([]endpoint.Descriptor, len(names))
	for i, n := range names {
		out[i] = endpoint.Descriptor{Name: n, Status: endpoint.StatusInService, CreatedAt: time.Now()}
	}
	return out
}

type fatalConfirmer struct{ t *testing.T }

func (f fatalConfirmer) Confirm(names []string) bool {
	f.t.Fatal("confirmation must not be requested")
	return false
}

type decline struct{}

func (decline) Confirm([]string) bool { return false }

func TestDeleteAllEmpty(t *testing.T) {
	registry := &fakeRegistry{}
	mgr := NewManager(registry, zap.NewNop())
	// An empty endpoint set succeeds trivially, without asking for
	// confirmation.
	out, err := mgr.DeleteAll(context.Background(), fatalConfirmer{t})
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Zero(t, out.Attempted)
}

func TestDeleteAllDeclined(t *testing.T) {
	registry := &fakeRegistry{endpoints: descriptors("a", "b")}
	mgr := NewManager(registry, zap.NewNop())
	out, err := mgr.DeleteAll(context.Background(), decline{})
	require.NoError(t, err)
	assert.False(t, out.OK)
	assert.Zero(t, out.Attempted)
	assert.Empty(t, registry.deleteAttempted)
}

func TestDeleteAllPartialFailure(t *testing.T) {
	registry := &fakeRegistry{
		endpoints:     descriptors("a", "b", "c"),
		failEndpoints: map[string]bool{"b": true},
	}
	mgr := NewManager(registry, zap.NewNop())
	out, err := mgr.DeleteAll(context.Background(), AutoApprove{})
	require.NoError(t, err)
	// One remote failure: the run reports 2/3 and still attempts every
	// endpoint.
	assert.False(t, out.OK)
	assert.Equal(t, 3, out.Attempted)
	assert.Equal(t, 2, out.Succeeded)
	assert.Equal(t, []string{"a", "b", "c"}, registry.deleteAttempted)
	assert.Equal(t, "2/3", out.String())
}

func TestDeleteAllSuccess(t *testing.T) {
	registry := &fakeRegistry{endpoints: descriptors("a", "b")}
	mgr := NewManager(registry, zap.NewNop())
	out, err := mgr.DeleteAll(context.Background(), AutoApprove{})
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, []string{"a", "b"}, registry.deleted)
	assert.Equal(t, []string{"a", "b"}, registry.deletedConfigs)
}

func TestDeleteOneConfigFailure(t *testing.T) {
	registry := &fakeRegistry{
		endpoints:   descriptors("a"),
		failConfigs: map[string]bool{"a": true},
	}
	mgr := NewManager(registry, zap.NewNop())
	// The endpoint itself was deleted, so the outcome is true even though
	// the config deletion failed.
	assert.True(t, mgr.DeleteOne(context.Background(), "a", true))
	assert.Equal(t, []string{"a"}, registry.deleted)
	assert.Empty(t, registry.deletedConfigs)
}

func TestDeleteOneAlreadyGone(t *testing.T) {
	registry := &fakeRegistry{}
	mgr := NewManager(registry, zap.NewNop())
	// A concurrent deleter winning the race surfaces as not-found, which is
	// benign: the endpoint is gone either way.
	assert.True(t, mgr.DeleteOne(context.Background(), "ghost", true))
}

func TestDeleteOneKeepConfig(t *testing.T) {
	registry := &fakeRegistry{endpoints: descriptors("a")}
	mgr := NewManager(registry, zap.NewNop())
	assert.True(t, mgr.DeleteOne(context.Background(), "a", false))
	assert.Empty(t, registry.deletedConfigs)
}

func TestDeleteFromRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endpoint_info.json")
	require.NoError(t, record.Save(path, endpoint.Record{
		EndpointName: "a",
		Region:       "us-east-1",
	}))
	registry := &fakeRegistry{endpoints: descriptors("a")}
	mgr := NewManager(registry, zap.NewNop())
	require.NoError(t, mgr.DeleteFromRecord(context.Background(), path))
	assert.Equal(t, []string{"a"}, registry.deleted)
}

func TestDeleteFromRecordMissingFile(t *testing.T) {
	registry := &fakeRegistry{endpoints: descriptors("a")}
	mgr := NewManager(registry, zap.NewNop())
	err := mgr.DeleteFromRecord(context.Background(), filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, endpoint.ErrNotFound)
	// No deletion may be attempted without a readable record.
	assert.Empty(t, registry.deleteAttempted)
}

func TestDeleteFromRecordStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "endpoint_info.json")
	require.NoError(t, record.Save(path, endpoint.Record{EndpointName: "gone"}))
	registry := &fakeRegistry{}
	mgr := NewManager(registry, zap.NewNop())
	// A record naming an endpoint deleted out of band reports not-found
	// instead of silent success.
	err := mgr.DeleteFromRecord(context.Background(), path)
	assert.ErrorIs(t, err, endpoint.ErrNotFound)
}

func TestTerminalConfirmer(t *testing.T) {
	var out strings.Builder
	c := TerminalConfirmer{In: strings.NewReader("yes\n"), Out: &out}
	assert.True(t, c.Confirm([]string{"a", "b"}))
	assert.Contains(t, out.String(), "delete 2 endpoint(s)")

	c = TerminalConfirmer{In: strings.NewReader("no\n"), Out: &strings.Builder{}}
	assert.False(t, c.Confirm([]string{"a"}))

	c = TerminalConfirmer{In: strings.NewReader(""), Out: &strings.Builder{}}
	assert.False(t, c.Confirm([]string{"a"}))
}
