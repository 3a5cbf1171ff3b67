// Package sandbox implements the Sandbox Controller (C3): provisioning and
// tearing down the per-task Kubernetes pod that clones the task's
// repository and runs the tool-executor sidecar. Provisioning resolves
// config, wraps a client, creates the pod, polls for readiness, and
// returns the connection info to the caller; teardown is idempotent.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"

	"github.com/shadow-org/shadow/internal/retry"
)

// Config holds provisioning parameters, typically resolved from the
// environment at process startup.
type Config struct {
	Namespace      string
	Image          string
	NodeSelector   map[string]string
	ReadyTimeout   time.Duration
	SidecarPort    int32
}

// Handle identifies a provisioned sandbox and how to reach its sidecar.
type Handle struct {
	SandboxID string
	Address   string // http://<pod-ip>:<port>
}

// Controller provisions and tears down task sandboxes.
type Controller struct {
	client kubernetes.Interface
	cfg    Config
	log    *slog.Logger
}

// New returns a Controller using client for Kubernetes API calls.
func New(client kubernetes.Interface, cfg Config, logger *slog.Logger) *Controller {
	if cfg.ReadyTimeout == 0 {
		cfg.ReadyTimeout = 300 * time.Second
	}
	if cfg.SidecarPort == 0 {
		cfg.SidecarPort = 7000
	}
	return &Controller{client: client, cfg: cfg, log: logger}
}

func sanitizePodName(taskID string) string {
	name := "shadow-task-"
	for _, r := range taskID {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			name += string(r)
		case r >= 'A' && r <= 'Z':
			name += string(r - 'A' + 'a')
		default:
			name += "-"
		}
	}
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}

// Provision creates a pod for taskID that shallow-clones repoCloneURL at
// branch and runs the tool-executor sidecar, then blocks (bounded by
// cfg.ReadyTimeout) until both containers report ready.
func (c *Controller) Provision(ctx context.Context, taskID, userID, repoCloneURL, branch string) (*Handle, error) {
	podName := sanitizePodName(taskID)

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName,
			Namespace: c.cfg.Namespace,
			Labels: map[string]string{
				"shadow.dev/task-id": taskID,
				"shadow.dev/user-id": userID,
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			NodeSelector:  c.cfg.NodeSelector,
			InitContainers: []corev1.Container{
				{
					Name:    "clone",
					Image:   "alpine/git:latest",
					Command: []string{"git", "clone", "--depth", "1", "--branch", branch, repoCloneURL, "/workspace"},
					VolumeMounts: []corev1.VolumeMount{
						{Name: "workspace", MountPath: "/workspace"},
					},
				},
			},
			Containers: []corev1.Container{
				{
					Name:  "sidecar",
					Image: c.cfg.Image,
					Ports: []corev1.ContainerPort{{ContainerPort: c.cfg.SidecarPort}},
					VolumeMounts: []corev1.VolumeMount{
						{Name: "workspace", MountPath: "/workspace"},
					},
					ReadinessProbe: &corev1.Probe{
						ProbeHandler: corev1.ProbeHandler{
							HTTPGet: &corev1.HTTPGetAction{Path: "/healthz", Port: intstr.FromInt32(c.cfg.SidecarPort)},
						},
						InitialDelaySeconds: 2,
						PeriodSeconds:       2,
					},
				},
			},
			Volumes: []corev1.Volume{
				{Name: "workspace", VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}}},
			},
		},
	}
	if len(c.cfg.NodeSelector) > 0 {
		pod.Spec.Tolerations = []corev1.Toleration{
			{Key: "shadow.dev/dedicated", Operator: corev1.TolerationOpExists, Effect: corev1.TaintEffectNoSchedule},
		}
	}

	created, err := c.client.CoreV1().Pods(c.cfg.Namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return nil, fmt.Errorf("sandbox: create pod: %w", err)
	}
	if err != nil {
		created, err = c.client.CoreV1().Pods(c.cfg.Namespace).Get(ctx, podName, metav1.GetOptions{})
		if err != nil {
			return nil, fmt.Errorf("sandbox: get existing pod: %w", err)
		}
	}

	addr, err := c.waitReady(ctx, podName)
	if err != nil {
		return nil, err
	}

	return &Handle{SandboxID: created.Name, Address: addr}, nil
}

func (c *Controller) waitReady(ctx context.Context, podName string) (string, error) {
	deadline := time.Now().Add(c.cfg.ReadyTimeout)
	for {
		if time.Now().After(deadline) {
			return "", fmt.Errorf("sandbox: pod %s did not become ready within %s", podName, c.cfg.ReadyTimeout)
		}

		pod, err := c.client.CoreV1().Pods(c.cfg.Namespace).Get(ctx, podName, metav1.GetOptions{})
		if err != nil {
			return "", fmt.Errorf("sandbox: poll pod: %w", err)
		}

		if pod.Status.Phase == corev1.PodRunning && podReady(pod) && pod.Status.PodIP != "" {
			return fmt.Sprintf("http://%s:%d", pod.Status.PodIP, c.cfg.SidecarPort), nil
		}
		if pod.Status.Phase == corev1.PodFailed {
			return "", fmt.Errorf("sandbox: pod %s failed to start", podName)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func podReady(pod *corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

// Teardown deletes the task's pod. Deleting a pod that is already gone is
// not an error: teardown is idempotent, matching the spec's requirement
// that the Cleanup Scheduler can safely re-run it.
func (c *Controller) Teardown(ctx context.Context, sandboxID string) error {
	err := retry.Do(ctx, retry.DefaultPolicy, func(ctx context.Context) error {
		err := c.client.CoreV1().Pods(c.cfg.Namespace).Delete(ctx, sandboxID, metav1.DeleteOptions{})
		if apierrors.IsNotFound(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("sandbox: teardown %s: %w", sandboxID, err)
	}
	c.log.Info("sandbox torn down", "sandbox_id", sandboxID)
	return nil
}
