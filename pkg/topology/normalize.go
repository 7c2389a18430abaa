package topology

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// NormalizeNode builds a NodeRecord from a raw watch event object.
func NormalizeNode(obj runtime.Object) (*NodeRecord, error) {
	node, ok := obj.(*corev1.Node)
	if !ok {
		return nil, fmt.Errorf("expected *corev1.Node, got %T", obj)
	}
	entity, err := normalizeEntity(node.ObjectMeta, KindNode)
	if err != nil {
		return nil, err
	}
	return &NodeRecord{Entity: entity}, nil
}

// NormalizeNamespace builds a NamespaceRecord from a raw watch event object.
func NormalizeNamespace(obj runtime.Object) (*NamespaceRecord, error) {
	ns, ok := obj.(*corev1.Namespace)
	if !ok {
		return nil, fmt.Errorf("expected *corev1.Namespace, got %T", obj)
	}
	entity, err := normalizeEntity(ns.ObjectMeta, KindNamespace)
	if err != nil {
		return nil, err
	}
	return &NamespaceRecord{
		Entity: entity,
		Status: string(ns.Status.Phase),
	}, nil
}

// NormalizePod builds a PodRecord from a raw watch event object.
func NormalizePod(obj runtime.Object) (*PodRecord, error) {
	pod, ok := obj.(*corev1.Pod)
	if !ok {
		return nil, fmt.Errorf("expected *corev1.Pod, got %T", obj)
	}
	entity, err := normalizeEntity(pod.ObjectMeta, KindPod)
	if err != nil {
		return nil, err
	}
	return &PodRecord{
		Entity:    entity,
		Status:    string(pod.Status.Phase),
		PodIP:     pod.Status.PodIP,
		Labels:    FormatLabels(pod.Labels),
		Namespace: pod.Namespace,
		NodeName:  pod.Spec.NodeName,
	}, nil
}

// NormalizeDeployment builds a DeploymentRecord from a raw watch event object.
func NormalizeDeployment(obj runtime.Object) (*DeploymentRecord, error) {
	deploy, ok := obj.(*appsv1.Deployment)
	if !ok {
		return nil, fmt.Errorf("expected *appsv1.Deployment, got %T", obj)
	}
	entity, err := normalizeEntity(deploy.ObjectMeta, KindDeployment)
	if err != nil {
		return nil, err
	}
	rec := &DeploymentRecord{
		Entity:        entity,
		Replicas:      deploy.Spec.Replicas,
		ReadyReplicas: deploy.Status.ReadyReplicas,
		Labels:        FormatLabels(deploy.Labels),
		Namespace:     deploy.Namespace,
	}
	if deploy.Spec.Selector != nil {
		rec.Selector = FormatLabels(deploy.Spec.Selector.MatchLabels)
	}
	return rec, nil
}

// normalizeEntity extracts the fields common to every resource kind.
func normalizeEntity(meta metav1.ObjectMeta, kind string) (Entity, error) {
	if meta.Name == "" {
		return Entity{}, fmt.Errorf("%s object has no metadata.name", kind)
	}
	return Entity{
		Name:    meta.Name,
		Kind:    kind,
		Created: FormatCreated(meta.CreationTimestamp.Time),
	}, nil
}
