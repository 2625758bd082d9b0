package kube

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	policyv1 "k8s.io/api/policy/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"
)

const (
	// NodePoolLabel is set by GKE on every node, its value is the node pool name.
	NodePoolLabel = "cloud.google.com/gke-nodepool"

	DefaultDrainTimeout = 120 * time.Second

	mirrorPodAnnotation = "kubernetes.io/config.mirror"
)

// ErrDrainTimeout is returned when evicted pods are still around once the drain timeout elapsed.
var ErrDrainTimeout = errors.New("pods still running on drained nodes")

// DrainOptions selects the nodes to drain and how.
type DrainOptions struct {
	LabelSelector              string
	Timeout                    time.Duration
	PollInterval               time.Duration
	DeletePodsWithLocalStorage bool
}

// NodePoolSelector selects every node of a GKE node pool.
func NodePoolSelector(nodePool string) string {
	return NodePoolLabel + "=" + nodePool
}

// Drainer cordons nodes then evicts their pods.
type Drainer struct {
	client kubernetes.Interface
	logger *zap.Logger
}

func NewDrainer(client kubernetes.Interface, logger *zap.Logger) *Drainer {
	return &Drainer{
		client: client,
		logger: logger.With(zap.String("component", "drainer")),
	}
}

// Drain cordons the selected nodes, evicts the pods they run and waits for
// those pods to be gone. It returns the names of the drained nodes.
func (d *Drainer) Drain(ctx context.Context, opts DrainOptions) ([]string, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultDrainTimeout
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	nodes, err := d.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{LabelSelector: opts.LabelSelector})
	if err != nil {
		return nil, fmt.Errorf("listing nodes matching %q: %w", opts.LabelSelector, err)
	}

	if len(nodes.Items) == 0 {
		d.logger.Warn("No node to drain", zap.String("selector", opts.LabelSelector))
		return nil, nil
	}

	drained := make([]string, 0, len(nodes.Items))

	for _, node := range nodes.Items {
		if err := d.cordon(ctx, node.Name); err != nil {
			return nil, err
		}

		drained = append(drained, node.Name)
	}

	evicted, err := d.podsToEvict(ctx, drained, opts)
	if err != nil {
		return nil, err
	}

	if err := d.evictAndWait(ctx, evicted, opts); err != nil {
		return nil, err
	}

	d.logger.Info(
		"Nodes drained",
		zap.Strings("nodes", drained),
		zap.Int("evicted_pods", len(evicted)),
	)

	return drained, nil
}

func (d *Drainer) cordon(ctx context.Context, name string) error {
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		node, err := d.client.CoreV1().Nodes().Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return err
		}

		if node.Spec.Unschedulable {
			return nil
		}

		node.Spec.Unschedulable = true

		_, err = d.client.CoreV1().Nodes().Update(ctx, node, metav1.UpdateOptions{})

		return err
	})
	if err != nil {
		return fmt.Errorf("cordoning node %s: %w", name, err)
	}

	d.logger.Debug("Node cordoned", zap.String("node", name))

	return nil
}

// podsToEvict lists the pods of every node, filtering them on the server
// side by node name.
func (d *Drainer) podsToEvict(ctx context.Context, nodeNames []string, opts DrainOptions) ([]corev1.Pod, error) {
	var pods []corev1.Pod

	for _, nodeName := range nodeNames {
		list, err := d.client.CoreV1().Pods(metav1.NamespaceAll).List(
			ctx,
			metav1.ListOptions{
				FieldSelector: fields.OneTermEqualSelector("spec.nodeName", nodeName).String(),
			},
		)
		if err != nil {
			return nil, fmt.Errorf("listing pods of node %s: %w", nodeName, err)
		}

		for _, pod := range list.Items {
			if pod.Spec.NodeName != nodeName {
				continue
			}

			if skip, reason := skipEviction(&pod, opts); skip {
				d.logger.Debug(
					"Pod not evicted",
					zap.String("namespace", pod.Namespace),
					zap.String("pod", pod.Name),
					zap.String("reason", reason),
				)

				continue
			}

			pods = append(pods, pod)
		}
	}

	return pods, nil
}

// evictAndWait evicts pods then waits for them to be gone. Evictions refused
// by a PodDisruptionBudget are retried at every poll until the timeout.
func (d *Drainer) evictAndWait(ctx context.Context, pods []corev1.Pod, opts DrainOptions) error {
	if len(pods) == 0 {
		return nil
	}

	pending := append([]corev1.Pod(nil), pods...)

	err := wait.PollUntilContextTimeout(
		ctx,
		opts.PollInterval,
		opts.Timeout,
		true,
		func(ctx context.Context) (bool, error) {
			var err error

			pending, err = d.evict(ctx, pending)
			if err != nil {
				return false, err
			}

			if len(pending) > 0 {
				return false, nil
			}

			return d.allGone(ctx, pods)
		},
	)
	if wait.Interrupted(err) {
		return fmt.Errorf("%w after %s", ErrDrainTimeout, opts.Timeout)
	}

	return err
}

// evict requests the eviction of pods and returns the ones refused for now.
func (d *Drainer) evict(ctx context.Context, pods []corev1.Pod) ([]corev1.Pod, error) {
	var refused []corev1.Pod

	for _, pod := range pods {
		err := d.client.PolicyV1().Evictions(pod.Namespace).Evict(
			ctx,
			&policyv1.Eviction{
				ObjectMeta: metav1.ObjectMeta{
					Namespace: pod.Namespace,
					Name:      pod.Name,
				},
			},
		)

		switch {
		case err == nil, apierrors.IsNotFound(err):
		case apierrors.IsTooManyRequests(err):
			d.logger.Debug(
				"Eviction refused by a disruption budget, retrying",
				zap.String("namespace", pod.Namespace),
				zap.String("pod", pod.Name),
			)

			refused = append(refused, pod)
		default:
			return nil, fmt.Errorf("evicting pod %s/%s: %w", pod.Namespace, pod.Name, err)
		}
	}

	return refused, nil
}

func (d *Drainer) allGone(ctx context.Context, pods []corev1.Pod) (bool, error) {
	for _, pod := range pods {
		current, err := d.client.CoreV1().Pods(pod.Namespace).Get(ctx, pod.Name, metav1.GetOptions{})
		switch {
		case apierrors.IsNotFound(err):
			continue
		case err != nil:
			return false, err
		case current.UID != pod.UID:
			continue
		default:
			return false, nil
		}
	}

	return true, nil
}

func skipEviction(pod *corev1.Pod, opts DrainOptions) (bool, string) {
	if _, ok := pod.Annotations[mirrorPodAnnotation]; ok {
		return true, "mirror pod"
	}

	if pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed {
		return true, "terminated"
	}

	if ref := metav1.GetControllerOf(pod); ref != nil && ref.Kind == "DaemonSet" {
		return true, "daemonset"
	}

	if !opts.DeletePodsWithLocalStorage {
		for _, volume := range pod.Spec.Volumes {
			if volume.EmptyDir != nil {
				return true, "local storage"
			}
		}
	}

	return false, ""
}
