package platform

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/rivernews/slack-middleware-server/internal/model"
)

type ClusterOptions struct {
	Namespace        string
	Image            string
	NodeSelector     map[string]string
	TTLAfterFinished time.Duration
}

// Cluster runs the worker as a Kubernetes batch Job which is never retried.
type Cluster struct {
	client kubernetes.Interface
	opts   ClusterOptions
}

func NewCluster(client kubernetes.Interface, opts ClusterOptions) *Cluster {
	if opts.Namespace == "" {
		opts.Namespace = "default"
	}
	return &Cluster{client: client, opts: opts}
}

// NewClientset uses kubeconfig, or the in cluster service account when empty.
func NewClientset(kubeconfig string) (kubernetes.Interface, error) {
	var (
		cfg *rest.Config
		err error
	)
	if kubeconfig == "" {
		cfg, err = rest.InClusterConfig()
	} else {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		return nil, fmt.Errorf("loading kubernetes config: %w", err)
	}
	return kubernetes.NewForConfig(cfg)
}

func (c *Cluster) Submit(ctx context.Context, req model.ScraperJobRequest) error {
	job := c.Job(req)
	created, err := c.client.BatchV1().Jobs(c.opts.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return fmt.Errorf("creating cluster job: %w", err)
	}
	slog.DebugContext(ctx, "cluster job created",
		slog.String("namespace", created.Namespace),
		slog.String("name", created.Name),
		slog.String("channel", req.PubsubChannelName))
	return nil
}

var labelUnsafe = regexp.MustCompile(`[^a-z0-9-]+`)

func labelValue(s string) string {
	v := labelUnsafe.ReplaceAllString(strings.ToLower(s), "-")
	v = strings.Trim(v, "-")
	if len(v) > 40 {
		v = strings.Trim(v[:40], "-")
	}
	return v
}

// Job builds the batch Job running req.
func (c *Cluster) Job(req model.ScraperJobRequest) *batchv1.Job {
	env := req.Env()
	vars := make([]corev1.EnvVar, 0, len(env))
	for _, k := range sortedEnv(env) {
		vars = append(vars, corev1.EnvVar{Name: k, Value: env[k]})
	}

	org := labelValue(req.Label())
	name := "scraper-" + uuid.NewString()[:8]
	if org != "" {
		name = "scraper-" + org + "-" + uuid.NewString()[:8]
	}
	labels := map[string]string{
		"app.kubernetes.io/name":      "scraper",
		"app.kubernetes.io/component": "worker",
	}
	if org != "" {
		labels["scraper/org"] = org
	}

	var ttl *int32
	if c.opts.TTLAfterFinished > 0 {
		ttl = ptr(int32(c.opts.TTLAfterFinished / time.Second))
	}

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: c.opts.Namespace,
			Labels:    labels,
			Annotations: map[string]string{
				"scraper/pubsub-channel": req.PubsubChannelName,
			},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            ptr(int32(0)),
			TTLSecondsAfterFinished: ttl,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					NodeSelector:  c.opts.NodeSelector,
					Containers: []corev1.Container{{
						Name:  "scraper",
						Image: c.opts.Image,
						Env:   vars,
						VolumeMounts: []corev1.VolumeMount{{
							Name:      "dshm",
							MountPath: "/dev/shm",
						}},
					}},
					Volumes: []corev1.Volume{{
						Name: "dshm",
						VolumeSource: corev1.VolumeSource{
							EmptyDir: &corev1.EmptyDirVolumeSource{Medium: corev1.StorageMediumMemory},
						},
					}},
				},
			},
		},
	}
}

func ptr[T any](v T) *T {
	return &v
}
