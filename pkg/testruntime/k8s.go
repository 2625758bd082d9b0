package testruntime

import (
	corev1 "k8s.io/api/core/v1"
	policyv1 "k8s.io/api/policy/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	kubefake "k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

// NewFakeK8s returns a fake clientset holding objs. Evicting a pod removes it
// from the clientset, the way the API server eventually does.
func NewFakeK8s(objs ...runtime.Object) *kubefake.Clientset {
	client := kubefake.NewSimpleClientset(objs...)

	client.PrependReactor("create", "*", func(action k8stesting.Action) (bool, runtime.Object, error) {
		if action.GetSubresource() != "eviction" {
			return false, nil, nil
		}

		create, ok := action.(k8stesting.CreateAction)
		if !ok {
			return false, nil, nil
		}

		eviction, ok := create.GetObject().(*policyv1.Eviction)
		if !ok {
			return false, nil, nil
		}

		namespace := eviction.Namespace
		if namespace == "" {
			namespace = action.GetNamespace()
		}

		return true, eviction, client.Tracker().Delete(
			corev1.SchemeGroupVersion.WithResource("pods"),
			namespace,
			eviction.Name,
		)
	})

	return client
}

func BuildNode(name string, labels map[string]string) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: labels,
		},
	}
}

type PodOption func(p *corev1.Pod)

// WithOwner marks the pod as controlled by an object of the given kind.
func WithOwner(kind, name string) PodOption {
	return func(p *corev1.Pod) {
		p.OwnerReferences = append(
			p.OwnerReferences,
			metav1.OwnerReference{
				APIVersion: "apps/v1",
				Kind:       kind,
				Name:       name,
				Controller: Ptr(true),
			},
		)
	}
}

func WithEmptyDir(name string) PodOption {
	return func(p *corev1.Pod) {
		p.Spec.Volumes = append(
			p.Spec.Volumes,
			corev1.Volume{
				Name:         name,
				VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
			},
		)
	}
}

func BuildPod(namespace, name, nodeName string, opts ...PodOption) *corev1.Pod {
	p := corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: namespace,
			Name:      name,
		},
		Spec: corev1.PodSpec{
			NodeName: nodeName,
		},
	}

	for _, opt := range opts {
		opt(&p)
	}

	return &p
}
