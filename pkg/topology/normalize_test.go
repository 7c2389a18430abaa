package topology

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

var testCreated = metav1.NewTime(time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC))

func TestNormalizeNode(t *testing.T) {
	node := &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{
			Name:              "worker-1",
			CreationTimestamp: testCreated,
		},
	}

	rec, err := NormalizeNode(node)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", rec.Name)
	assert.Equal(t, KindNode, rec.Kind)
	assert.Equal(t, "2024-03-01 10:30", rec.Created)
}

func TestNormalizeNode_WrongType(t *testing.T) {
	rec, err := NormalizeNode(&corev1.Pod{})
	assert.Error(t, err)
	assert.Nil(t, rec)
}

func TestNormalizeNamespace(t *testing.T) {
	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name:              "production",
			CreationTimestamp: testCreated,
		},
		Status: corev1.NamespaceStatus{Phase: corev1.NamespaceActive},
	}

	rec, err := NormalizeNamespace(ns)
	require.NoError(t, err)
	assert.Equal(t, "production", rec.Name)
	assert.Equal(t, KindNamespace, rec.Kind)
	assert.Equal(t, "Active", rec.Status)
}

func TestNormalizePod(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:              "web-abc123",
			Namespace:         "production",
			CreationTimestamp: testCreated,
			Labels: map[string]string{
				"tier": "frontend",
				"app":  "web",
			},
		},
		Spec: corev1.PodSpec{NodeName: "worker-1"},
		Status: corev1.PodStatus{
			Phase: corev1.PodRunning,
			PodIP: "10.0.0.5",
		},
	}

	rec, err := NormalizePod(pod)
	require.NoError(t, err)
	assert.Equal(t, "web-abc123", rec.Name)
	assert.Equal(t, KindPod, rec.Kind)
	assert.Equal(t, "Running", rec.Status)
	assert.Equal(t, "10.0.0.5", rec.PodIP)
	assert.Equal(t, "production", rec.Namespace)
	assert.Equal(t, "worker-1", rec.NodeName)
	assert.Equal(t, []string{"app=web", "tier=frontend"}, rec.Labels)
}

func TestNormalizePod_Unscheduled(t *testing.T) {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:              "pending-pod",
			CreationTimestamp: testCreated,
		},
		Status: corev1.PodStatus{Phase: corev1.PodPending},
	}

	rec, err := NormalizePod(pod)
	require.NoError(t, err)
	assert.Empty(t, rec.PodIP)
	assert.Empty(t, rec.NodeName)
	assert.Empty(t, rec.Labels)
}

func TestNormalizePod_MissingName(t *testing.T) {
	rec, err := NormalizePod(&corev1.Pod{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "metadata.name")
	assert.Nil(t, rec)
}

func TestNormalizeDeployment(t *testing.T) {
	replicas := int32(3)
	deploy := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:              "web",
			Namespace:         "production",
			CreationTimestamp: testCreated,
			Labels:            map[string]string{"app": "web"},
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{"app": "web"},
			},
		},
		Status: appsv1.DeploymentStatus{ReadyReplicas: 2},
	}

	rec, err := NormalizeDeployment(deploy)
	require.NoError(t, err)
	assert.Equal(t, "web", rec.Name)
	assert.Equal(t, KindDeployment, rec.Kind)
	require.NotNil(t, rec.Replicas)
	assert.Equal(t, int32(3), *rec.Replicas)
	assert.Equal(t, int32(2), rec.ReadyReplicas)
	assert.Equal(t, "production", rec.Namespace)
	assert.Equal(t, []string{"app=web"}, rec.Labels)
	assert.Equal(t, []string{"app=web"}, rec.Selector)
}

func TestNormalizeDeployment_NoReplicasNoSelector(t *testing.T) {
	deploy := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:              "bare",
			CreationTimestamp: testCreated,
		},
	}

	rec, err := NormalizeDeployment(deploy)
	require.NoError(t, err)
	assert.Nil(t, rec.Replicas)
	assert.Zero(t, rec.ReadyReplicas)
	assert.Empty(t, rec.Selector)
}

func TestFormatLabels(t *testing.T) {
	t.Run("sorted key=value pairs", func(t *testing.T) {
		labels := map[string]string{
			"tier":    "frontend",
			"app":     "web",
			"version": "v2",
		}
		assert.Equal(t, []string{"app=web", "tier=frontend", "version=v2"}, FormatLabels(labels))
	})

	t.Run("empty map", func(t *testing.T) {
		assert.Nil(t, FormatLabels(nil))
		assert.Nil(t, FormatLabels(map[string]string{}))
	})
}
