package watch

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	apiwatch "k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"

	"github.com/kubetopo/kubetopo/pkg/telemetry"
	"github.com/kubetopo/kubetopo/pkg/topology"
)

// Syncer applies normalized records to the graph store.
type Syncer interface {
	UpsertNode(ctx context.Context, rec *topology.NodeRecord) error
	UpsertNamespace(ctx context.Context, rec *topology.NamespaceRecord) error
	UpsertPod(ctx context.Context, rec *topology.PodRecord) error
	RemovePod(ctx context.Context, name string) error
	UpsertDeployment(ctx context.Context, rec *topology.DeploymentRecord) error
	RemoveDeployment(ctx context.Context, name string) error
}

// Dispatcher runs one long-lived watch loop per resource kind, normalizing
// each event and dispatching it to the Syncer. A loop only returns when its
// stream ends or the context is cancelled; per-event failures are logged and
// the loop moves on.
type Dispatcher struct {
	client kubernetes.Interface
	syncer Syncer
	logger *zap.Logger
	inst   *telemetry.Instrumentation
}

// Config holds Dispatcher dependencies.
type Config struct {
	KubeClient      kubernetes.Interface
	Syncer          Syncer
	Logger          *zap.Logger
	Instrumentation *telemetry.Instrumentation
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(config Config) (*Dispatcher, error) {
	if config.KubeClient == nil {
		return nil, fmt.Errorf("kubeClient is required")
	}
	if config.Syncer == nil {
		return nil, fmt.Errorf("syncer is required")
	}
	if config.Instrumentation == nil {
		return nil, fmt.Errorf("instrumentation is required")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Dispatcher{
		client: config.KubeClient,
		syncer: config.Syncer,
		logger: config.Logger,
		inst:   config.Instrumentation,
	}, nil
}

// WatchNodes mirrors cluster nodes. Only creation is modeled; modify and
// delete events are ignored.
func (d *Dispatcher) WatchNodes(ctx context.Context) error {
	w, err := d.client.CoreV1().Nodes().Watch(ctx, metav1.ListOptions{})
	if err != nil {
		return fmt.Errorf("failed to open node watch: %w", err)
	}
	return d.consume(ctx, "node", w, d.handleNodeEvent)
}

// WatchNamespaces mirrors namespaces. Delete events are ignored.
func (d *Dispatcher) WatchNamespaces(ctx context.Context) error {
	w, err := d.client.CoreV1().Namespaces().Watch(ctx, metav1.ListOptions{})
	if err != nil {
		return fmt.Errorf("failed to open namespace watch: %w", err)
	}
	return d.consume(ctx, "namespace", w, d.handleNamespaceEvent)
}

// WatchPods mirrors pods across all namespaces, including their edges to
// nodes, namespaces and matching deployments.
func (d *Dispatcher) WatchPods(ctx context.Context) error {
	w, err := d.client.CoreV1().Pods(metav1.NamespaceAll).Watch(ctx, metav1.ListOptions{})
	if err != nil {
		return fmt.Errorf("failed to open pod watch: %w", err)
	}
	return d.consume(ctx, "pod", w, d.handlePodEvent)
}

// WatchDeployments mirrors deployments across all namespaces.
func (d *Dispatcher) WatchDeployments(ctx context.Context) error {
	w, err := d.client.AppsV1().Deployments(metav1.NamespaceAll).Watch(ctx, metav1.ListOptions{})
	if err != nil {
		return fmt.Errorf("failed to open deployment watch: %w", err)
	}
	return d.consume(ctx, "deployment", w, d.handleDeploymentEvent)
}

// consume drains a watch stream until it closes or the context is cancelled.
// A closed stream is reported as an error so the supervisor can restart it.
func (d *Dispatcher) consume(ctx context.Context, kind string, w apiwatch.Interface, handle func(context.Context, apiwatch.Event)) error {
	defer w.Stop()

	d.logger.Info("Watch stream opened", zap.String("kind", kind))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.ResultChan():
			if !ok {
				return fmt.Errorf("%s watch stream closed", kind)
			}
			d.inst.WatchEvents.Add(ctx, 1,
				metric.WithAttributes(
					attribute.String("kind", kind),
					attribute.String("type", string(event.Type)),
				))
			if event.Type == apiwatch.Error {
				d.logger.Warn("Watch stream error event",
					zap.String("kind", kind),
					zap.Any("object", event.Object))
				continue
			}
			if event.Type == apiwatch.Bookmark {
				continue
			}
			// shutdown must not abort a mutation mid-transaction; the loop
			// exits between events, never during one
			handle(context.WithoutCancel(ctx), event)
		}
	}
}

func (d *Dispatcher) handleNodeEvent(ctx context.Context, event apiwatch.Event) {
	if event.Type != apiwatch.Added {
		// node churn beyond creation is not modeled
		return
	}
	rec, err := topology.NormalizeNode(event.Object)
	if err != nil {
		d.logger.Warn("Skipping malformed node event", zap.Error(err))
		return
	}
	if err := d.syncer.UpsertNode(ctx, rec); err != nil {
		d.logger.Error("Node upsert failed",
			zap.String("node", rec.Name),
			zap.Error(err))
	}
}

func (d *Dispatcher) handleNamespaceEvent(ctx context.Context, event apiwatch.Event) {
	if event.Type != apiwatch.Added && event.Type != apiwatch.Modified {
		// namespace deletion is intentionally not mirrored
		return
	}
	rec, err := topology.NormalizeNamespace(event.Object)
	if err != nil {
		d.logger.Warn("Skipping malformed namespace event", zap.Error(err))
		return
	}
	if err := d.syncer.UpsertNamespace(ctx, rec); err != nil {
		d.logger.Error("Namespace upsert failed",
			zap.String("namespace", rec.Name),
			zap.Error(err))
	}
}

func (d *Dispatcher) handlePodEvent(ctx context.Context, event apiwatch.Event) {
	rec, err := topology.NormalizePod(event.Object)
	if err != nil {
		d.logger.Warn("Skipping malformed pod event", zap.Error(err))
		return
	}
	switch event.Type {
	case apiwatch.Added, apiwatch.Modified:
		if err := d.syncer.UpsertPod(ctx, rec); err != nil {
			d.logger.Error("Pod upsert failed",
				zap.String("pod", rec.Name),
				zap.Error(err))
		}
	case apiwatch.Deleted:
		if err := d.syncer.RemovePod(ctx, rec.Name); err != nil {
			d.logger.Error("Pod removal failed",
				zap.String("pod", rec.Name),
				zap.Error(err))
		}
	}
}

func (d *Dispatcher) handleDeploymentEvent(ctx context.Context, event apiwatch.Event) {
	rec, err := topology.NormalizeDeployment(event.Object)
	if err != nil {
		d.logger.Warn("Skipping malformed deployment event", zap.Error(err))
		return
	}
	switch event.Type {
	case apiwatch.Added, apiwatch.Modified:
		if err := d.syncer.UpsertDeployment(ctx, rec); err != nil {
			d.logger.Error("Deployment upsert failed",
				zap.String("deployment", rec.Name),
				zap.Error(err))
		}
	case apiwatch.Deleted:
		if err := d.syncer.RemoveDeployment(ctx, rec.Name); err != nil {
			d.logger.Error("Deployment removal failed",
				zap.String("deployment", rec.Name),
				zap.Error(err))
		}
	}
}
