package topology

import (
	"fmt"
	"sort"
	"time"
)

// Entity kinds mirrored into the graph.
const (
	KindNode       = "Node"
	KindNamespace  = "Namespace"
	KindPod        = "Pod"
	KindDeployment = "Deployment"
)

// CreatedFormat is how entity creation timestamps are stored in the graph.
const CreatedFormat = "2006-01-02 15:04"

// Entity holds the fields common to every mirrored resource.
type Entity struct {
	Name    string
	Kind    string
	Created string
}

// NodeRecord is a normalized cluster node event. Nodes are immutable in the
// graph model, so the common fields are all it carries.
type NodeRecord struct {
	Entity
}

// NamespaceRecord is a normalized namespace event.
type NamespaceRecord struct {
	Entity
	Status string
}

// PodRecord is a normalized pod event. PodIP is the join key for every edge
// touching the pod; a pod without an assigned IP cannot be linked yet.
type PodRecord struct {
	Entity
	Status    string
	PodIP     string
	Labels    []string
	Namespace string
	NodeName  string
}

// DeploymentRecord is a normalized deployment event. Replicas is nil when the
// deployment spec does not set a replica count.
type DeploymentRecord struct {
	Entity
	Replicas      *int32
	ReadyReplicas int32
	Labels        []string
	Namespace     string
	Selector      []string
}

// FormatLabels renders a label map as a sorted set of "key=value" strings,
// the representation stored on graph entities and compared by Matches.
func FormatLabels(labels map[string]string) []string {
	if len(labels) == 0 {
		return nil
	}
	pairs := make([]string, 0, len(labels))
	for key, value := range labels {
		pairs = append(pairs, fmt.Sprintf("%s=%s", key, value))
	}
	sort.Strings(pairs)
	return pairs
}

// FormatCreated renders a creation timestamp in the stored format.
func FormatCreated(t time.Time) string {
	return t.Format(CreatedFormat)
}
