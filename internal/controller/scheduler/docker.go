package scheduler

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"go.uber.org/zap"
)

// DockerScheduler launches each bot as a single container on the local
// Docker daemon, grounded on
// teradata-labs-loom/pkg/docker/scheduler.go's LocalScheduler (host
// detection, API-version negotiation, ping-on-construct) adapted from a
// reusable-container pool to meetbot's one-container-per-Meeting model.
type DockerScheduler struct {
	client *client.Client
	image  string
	logger *zap.Logger
}

// NewDockerScheduler connects to the local Docker daemon. dockerHost empty
// means "use DOCKER_HOST or the platform default socket", matching the
// teacher's detectDockerHost fallback chain.
func NewDockerScheduler(ctx context.Context, dockerHost, image string, logger *zap.Logger) (*DockerScheduler, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if dockerHost != "" {
		opts = append(opts, client.WithHost(dockerHost))
	} else if h := os.Getenv("DOCKER_HOST"); h != "" {
		opts = append(opts, client.WithHost(h))
	} else {
		opts = append(opts, client.FromEnv)
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("ping docker daemon: %w", err)
	}

	return &DockerScheduler{client: cli, image: image, logger: logger}, nil
}

// Launch creates and starts one container running the bot image, with the
// config blob injected as an environment variable (BOT_CONFIG).
func (d *DockerScheduler) Launch(ctx context.Context, meetingID string, cfg BotConfig) (string, error) {
	encoded, err := cfg.Encode()
	if err != nil {
		return "", fmt.Errorf("encode bot config: %w", err)
	}

	resp, err := d.client.ContainerCreate(ctx, &container.Config{
		Image: d.image,
		Env:   []string{"BOT_CONFIG=" + encoded},
		Labels: map[string]string{
			"meetbot.meeting_id": meetingID,
			"meetbot.managed-by": "bot-lifecycle-controller",
		},
	}, &container.HostConfig{
		AutoRemove: false,
	}, nil, nil, containerName(meetingID))
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return "", fmt.Errorf("start container: %w", err)
	}

	d.logger.Info("workload launched",
		zap.String("meeting_id", meetingID),
		zap.String("container_id", resp.ID))

	return resp.ID, nil
}

// Status inspects the container and maps Docker's state onto the
// reconciler's coarse vocabulary.
func (d *DockerScheduler) Status(ctx context.Context, handle string) (WorkloadStatus, error) {
	inspect, err := d.client.ContainerInspect(ctx, handle)
	if err != nil {
		if client.IsErrNotFound(err) {
			return StatusNotFound, nil
		}
		return StatusUnknown, fmt.Errorf("inspect container: %w", err)
	}

	switch {
	case inspect.State.Running:
		return StatusRunning, nil
	case inspect.State.ExitCode == 0 && !inspect.State.Running:
		return StatusSucceeded, nil
	case inspect.State.ExitCode != 0:
		return StatusFailed, nil
	default:
		return StatusUnknown, nil
	}
}

// Kill stops the container, tolerating the case where it's already gone.
func (d *DockerScheduler) Kill(ctx context.Context, handle string) error {
	timeout := 10
	err := d.client.ContainerStop(ctx, handle, container.StopOptions{Timeout: &timeout})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("stop container: %w", err)
	}
	return nil
}

// Ping reports whether the Docker daemon is reachable.
func (d *DockerScheduler) Ping(ctx context.Context) error {
	_, err := d.client.Ping(ctx)
	return err
}

// Close releases the underlying client connection.
func (d *DockerScheduler) Close() error {
	return d.client.Close()
}

func containerName(meetingID string) string {
	return "meetbot-" + strings.ReplaceAll(meetingID, "-", "")[:12]
}
