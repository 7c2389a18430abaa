package graph

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/kubetopo/kubetopo/pkg/telemetry"
	"github.com/kubetopo/kubetopo/pkg/topology"
)

// Synchronizer translates normalized records into idempotent graph mutations.
// Every entity write is a MERGE and every edge write joins existing entities,
// so replaying an event or applying it before its counterpart exists is safe.
type Synchronizer struct {
	store  Executor
	logger *zap.Logger
	inst   *telemetry.Instrumentation
}

// NewSynchronizer creates a Synchronizer.
func NewSynchronizer(store Executor, logger *zap.Logger, inst *telemetry.Instrumentation) (*Synchronizer, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if inst == nil {
		return nil, fmt.Errorf("instrumentation is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		store:  store,
		logger: logger,
		inst:   inst,
	}, nil
}

// UpsertNode creates the Node entity if absent. There is no update path: node
// churn is not modeled, updates arrive as no-op MERGEs.
func (s *Synchronizer) UpsertNode(ctx context.Context, rec *topology.NodeRecord) error {
	start := time.Now()
	err := s.store.Write(ctx, `
		MERGE (:Node {name: $name, kind: $kind, created: $created})`,
		map[string]any{
			"name":    rec.Name,
			"kind":    rec.Kind,
			"created": rec.Created,
		})
	if err != nil {
		s.logger.Error("Failed to create Node entity",
			zap.String("node", rec.Name),
			zap.Error(err))
	}
	s.observe(ctx, "upsert_node", start, err)
	return err
}

// UpsertNamespace creates the Namespace entity if absent and sets its
// last-observed phase.
func (s *Synchronizer) UpsertNamespace(ctx context.Context, rec *topology.NamespaceRecord) error {
	start := time.Now()
	var firstErr error

	err := s.store.Write(ctx, `
		MERGE (:Namespace {name: $name, kind: $kind, created: $created})`,
		map[string]any{
			"name":    rec.Name,
			"kind":    rec.Kind,
			"created": rec.Created,
		})
	firstErr = s.step(firstErr, err, "create Namespace entity", rec.Name)

	if rec.Status != "" {
		err := s.store.Write(ctx, `
			MATCH (ns:Namespace {name: $name})
			SET ns.status = $status`,
			map[string]any{
				"name":   rec.Name,
				"status": rec.Status,
			})
		firstErr = s.step(firstErr, err, "set Namespace status", rec.Name)
	}

	s.observe(ctx, "upsert_namespace", start, firstErr)
	return firstErr
}

// UpsertPod creates or updates the Pod entity and resolves its edges. Edges
// are joined through pod_ip, so a pod without an assigned IP is created but
// stays unlinked until a later upsert carries the IP. Steps are attempted
// independently; the first failure is returned after all steps ran.
func (s *Synchronizer) UpsertPod(ctx context.Context, rec *topology.PodRecord) error {
	start := time.Now()
	var firstErr error

	err := s.store.Write(ctx, `
		MERGE (:Pod {name: $name, kind: $kind, created: $created})`,
		map[string]any{
			"name":    rec.Name,
			"kind":    rec.Kind,
			"created": rec.Created,
		})
	firstErr = s.step(firstErr, err, "create Pod entity", rec.Name)

	// IP and phase are set together once scheduling assigned them.
	if rec.PodIP != "" && rec.Status != "" {
		err := s.store.Write(ctx, `
			MATCH (p:Pod {name: $name})
			SET p.status = $status, p.pod_ip = $pod_ip`,
			map[string]any{
				"name":   rec.Name,
				"status": rec.Status,
				"pod_ip": rec.PodIP,
			})
		firstErr = s.step(firstErr, err, "set Pod status and IP", rec.Name)
	}

	if len(rec.Labels) > 0 {
		err := s.store.Write(ctx, `
			MATCH (p:Pod {pod_ip: $pod_ip})
			SET p.labels = $labels`,
			map[string]any{
				"pod_ip": rec.PodIP,
				"labels": rec.Labels,
			})
		firstErr = s.step(firstErr, err, "set Pod labels", rec.Name)

		err = s.linkMatchingDeployments(ctx, rec)
		firstErr = s.step(firstErr, err, "link Pod to deployments", rec.Name)
	}

	if rec.NodeName != "" {
		err := s.store.Write(ctx, `
			MATCH (p:Pod {pod_ip: $pod_ip})
			MATCH (n:Node {name: $node_name})
			MERGE (p)-[:runsOn]->(n)`,
			map[string]any{
				"pod_ip":    rec.PodIP,
				"node_name": rec.NodeName,
			})
		firstErr = s.step(firstErr, err, "link Pod to Node", rec.Name)
	}

	if rec.Namespace != "" {
		err := s.store.Write(ctx, `
			MATCH (p:Pod {pod_ip: $pod_ip})
			MATCH (ns:Namespace {name: $namespace})
			MERGE (p)-[:associateTo]->(ns)`,
			map[string]any{
				"pod_ip":    rec.PodIP,
				"namespace": rec.Namespace,
			})
		firstErr = s.step(firstErr, err, "link Pod to Namespace", rec.Name)
	}

	s.observe(ctx, "upsert_pod", start, firstErr)
	return firstErr
}

// RemovePod deletes the Pod entity and all incident edges.
func (s *Synchronizer) RemovePod(ctx context.Context, name string) error {
	start := time.Now()
	err := s.store.Write(ctx, `
		MATCH (p:Pod {name: $name})
		DETACH DELETE p`,
		map[string]any{"name": name})
	if err != nil {
		s.logger.Error("Failed to remove Pod",
			zap.String("pod", name),
			zap.Error(err))
	}
	s.observe(ctx, "remove_pod", start, err)
	return err
}

// UpsertDeployment creates or updates the Deployment entity and its namespace
// edge. Matching against pods is pod-driven: a selector stored here only takes
// effect for pods upserted afterwards.
func (s *Synchronizer) UpsertDeployment(ctx context.Context, rec *topology.DeploymentRecord) error {
	start := time.Now()
	var firstErr error

	err := s.store.Write(ctx, `
		MERGE (:Deployment {name: $name, kind: $kind, created: $created})`,
		map[string]any{
			"name":    rec.Name,
			"kind":    rec.Kind,
			"created": rec.Created,
		})
	firstErr = s.step(firstErr, err, "create Deployment entity", rec.Name)

	if rec.Replicas != nil {
		err := s.store.Write(ctx, `
			MATCH (d:Deployment {name: $name})
			SET d.replicas = $replicas, d.ready_replicas = $ready_replicas`,
			map[string]any{
				"name":           rec.Name,
				"replicas":       *rec.Replicas,
				"ready_replicas": rec.ReadyReplicas,
			})
		firstErr = s.step(firstErr, err, "set Deployment replicas", rec.Name)
	}

	if len(rec.Labels) > 0 {
		err := s.store.Write(ctx, `
			MATCH (d:Deployment {name: $name})
			SET d.labels = $labels`,
			map[string]any{
				"name":   rec.Name,
				"labels": rec.Labels,
			})
		firstErr = s.step(firstErr, err, "set Deployment labels", rec.Name)
	}

	if rec.Namespace != "" {
		err := s.store.Write(ctx, `
			MATCH (d:Deployment {name: $name})
			MATCH (ns:Namespace {name: $namespace})
			MERGE (d)-[:associateTo]->(ns)`,
			map[string]any{
				"name":      rec.Name,
				"namespace": rec.Namespace,
			})
		firstErr = s.step(firstErr, err, "link Deployment to Namespace", rec.Name)
	}

	if len(rec.Selector) > 0 {
		err := s.store.Write(ctx, `
			MATCH (d:Deployment {name: $name})
			SET d.selector = $selector`,
			map[string]any{
				"name":     rec.Name,
				"selector": rec.Selector,
			})
		firstErr = s.step(firstErr, err, "set Deployment selector", rec.Name)
	}

	s.observe(ctx, "upsert_deployment", start, firstErr)
	return firstErr
}

// RemoveDeployment deletes the Deployment entity and all incident edges.
func (s *Synchronizer) RemoveDeployment(ctx context.Context, name string) error {
	start := time.Now()
	err := s.store.Write(ctx, `
		MATCH (d:Deployment {name: $name})
		DETACH DELETE d`,
		map[string]any{"name": name})
	if err != nil {
		s.logger.Error("Failed to remove Deployment",
			zap.String("deployment", name),
			zap.Error(err))
	}
	s.observe(ctx, "remove_deployment", start, err)
	return err
}

// deploymentSelector is one row of the stored deployment selectors.
type deploymentSelector struct {
	Name     string
	Selector []string
}

// linkMatchingDeployments reads all known deployments and creates a
// scheduledTo edge for every selector the pod's labels satisfy. The subset
// test runs here, not in the query: only matched names reach the store as
// parameters. Edges are additive; a pod that stops matching keeps its edge.
func (s *Synchronizer) linkMatchingDeployments(ctx context.Context, rec *topology.PodRecord) error {
	deployments, err := s.listDeployments(ctx)
	if err != nil {
		return err
	}

	for _, d := range deployments {
		if len(d.Selector) == 0 {
			continue
		}
		if !topology.Matches(rec.Labels, d.Selector) {
			continue
		}
		err := s.store.Write(ctx, `
			MATCH (d:Deployment {name: $deployment})
			MATCH (p:Pod {pod_ip: $pod_ip})
			MERGE (d)-[:scheduledTo]->(p)`,
			map[string]any{
				"deployment": d.Name,
				"pod_ip":     rec.PodIP,
			})
		if err != nil {
			return err
		}
		s.inst.RelationshipsCreated.Add(ctx, 1,
			metric.WithAttributes(attribute.String("edge", "scheduledTo")))
		s.logger.Debug("Linked pod to deployment",
			zap.String("pod", rec.Name),
			zap.String("deployment", d.Name))
	}
	return nil
}

// listDeployments reads every stored deployment name and selector.
func (s *Synchronizer) listDeployments(ctx context.Context) ([]deploymentSelector, error) {
	rows, err := s.store.Read(ctx, `
		MATCH (d:Deployment)
		RETURN d.name AS name, d.selector AS selector`, nil)
	if err != nil {
		return nil, err
	}

	deployments := make([]deploymentSelector, 0, len(rows))
	for _, row := range rows {
		name, ok := row["name"].(string)
		if !ok {
			continue
		}
		d := deploymentSelector{Name: name}
		if values, ok := row["selector"].([]any); ok {
			for _, v := range values {
				if label, ok := v.(string); ok {
					d.Selector = append(d.Selector, label)
				}
			}
		}
		deployments = append(deployments, d)
	}
	return deployments, nil
}

// step logs a failed mutation step and keeps the first error of the operation.
// Later steps still run: each statement commits on its own, so a partial
// application is bounded to the single step that failed.
func (s *Synchronizer) step(firstErr, err error, what, entity string) error {
	if err == nil {
		return firstErr
	}
	s.logger.Error("Failed to "+what,
		zap.String("entity", entity),
		zap.Error(err))
	if firstErr == nil {
		return err
	}
	return firstErr
}

func (s *Synchronizer) observe(ctx context.Context, operation string, start time.Time, err error) {
	s.inst.GraphUpdateDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.Bool("success", err == nil),
		))
}
