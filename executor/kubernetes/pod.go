package kubernetes

import (
	"context"
	"slices"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/logger"
)

// ResolvePod finds the target pod: the named pod or, with a selector, the
// first running pod by name. It polls every PollInterval for up to PodWait
// until a matching pod is running.
func (e *Executor) ResolvePod(ctx context.Context) (*corev1.Pod, error) {
	var (
		found   *corev1.Pod
		lastErr error
	)
	err := wait.PollUntilContextTimeout(ctx, e.cfg.PollInterval, e.cfg.PodWait, true, func(ctx context.Context) (bool, error) {
		pods, err := e.candidates(ctx)
		if err != nil {
			lastErr = err
			return false, nil
		}
		found = pickRunning(pods)
		return found != nil, nil
	})
	if found != nil {
		e.log.Debug("pod resolved", map[string]interface{}{logger.FieldPod: found.Name})
		return found, nil
	}
	target := e.cfg.Pod
	if target == "" {
		target = e.cfg.Selector
	}
	nf := errors.NotFound("running pod", target).WithDetail("namespace", e.cfg.Namespace)
	if lastErr != nil {
		return nil, nf.WithCause(lastErr)
	}
	return nil, nf.WithCause(err)
}

func (e *Executor) candidates(ctx context.Context) ([]corev1.Pod, error) {
	pods := e.client.CoreV1().Pods(e.cfg.Namespace)
	if e.cfg.Pod != "" {
		pod, err := pods.Get(ctx, e.cfg.Pod, metav1.GetOptions{})
		if err != nil {
			return nil, err
		}
		return []corev1.Pod{*pod}, nil
	}
	list, err := pods.List(ctx, metav1.ListOptions{LabelSelector: e.cfg.Selector})
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

// pickRunning returns the running pod with the lowest name, skipping pods
// that are being deleted.
func pickRunning(pods []corev1.Pod) *corev1.Pod {
	var running []corev1.Pod
	for _, p := range pods {
		if p.Status.Phase == corev1.PodRunning && p.DeletionTimestamp == nil {
			running = append(running, p)
		}
	}
	if len(running) == 0 {
		return nil
	}
	slices.SortFunc(running, func(a, b corev1.Pod) int { return strings.Compare(a.Name, b.Name) })
	return &running[0]
}
