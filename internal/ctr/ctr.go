// Package ctr is the container launcher: given a game image and a launched
// party's port assignment, it starts one container, streams its log output,
// and finalizes the party when the container exits. Grounded in shape (not
// code — no pack repo imports a container-engine SDK) on the reconciler
// style of the other_examples gameserver controllers: build a spec from a
// declarative record, start it, watch it, react to its terminal state.
package ctr

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/playpool/matchcore/internal/msgbus"
)

// EndGameFunc finalizes a party in KVS once its container exits.
type EndGameFunc func(ctx context.Context, partyID string) error

// Launcher drives the Docker Engine API to run one container per party.
type Launcher struct {
	cli     *client.Client
	bus     msgbus.Bus
	endGame EndGameFunc
}

func New(cli *client.Client, bus msgbus.Bus, endGame EndGameFunc) *Launcher {
	return &Launcher{cli: cli, bus: bus, endGame: endGame}
}

// Spec is the subset of game/party data the launcher needs, decoupled from
// the models/kvs packages. The Launcher itself holds a concrete
// *client.Client, so launching always talks to a Docker daemon.
type Spec struct {
	PartyID       string
	Image         string
	Host          string
	InternalPorts []int
	ExternalPorts []int
	ContainerName string
}

// Launch builds the container spec, starts it, publishes game:started, and
// blocks streaming logs until the container exits, then calls endGame.
// Intended to run in its own goroutine per party.
func (l *Launcher) Launch(ctx context.Context, spec Spec) {
	exposedPorts, portBindings := portMapping(spec.InternalPorts, spec.ExternalPorts)

	resp, err := l.cli.ContainerCreate(ctx,
		&container.Config{Image: spec.Image, ExposedPorts: exposedPorts},
		&container.HostConfig{PortBindings: portBindings},
		nil, nil, spec.ContainerName)
	if err != nil {
		log.Printf("[CTR] launch-failed: create container for party %s: %v", spec.PartyID, err)
		return
	}

	if err := l.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		log.Printf("[CTR] launch-failed: start container %s for party %s: %v", resp.ID, spec.PartyID, err)
		return
	}

	payload, _ := json.Marshal(map[string]any{
		"type":  "game:started",
		"host":  spec.Host,
		"ports": spec.ExternalPorts,
	})
	if err := l.bus.Send(ctx, "party:"+spec.PartyID, payload); err != nil {
		log.Printf("[CTR] failed to publish game:started for party %s: %v", spec.PartyID, err)
	}

	go l.streamLogs(ctx, resp.ID, spec.PartyID)

	statusCh, errCh := l.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			log.Printf("[CTR] wait error for party %s container %s: %v", spec.PartyID, resp.ID, err)
		}
	case status := <-statusCh:
		log.Printf("[CTR] container %s for party %s exited with code %d", resp.ID, spec.PartyID, status.StatusCode)
	case <-ctx.Done():
		log.Printf("[CTR] shutdown: stopped waiting on container %s for party %s", resp.ID, spec.PartyID)
		return
	}

	if err := l.endGame(context.Background(), spec.PartyID); err != nil {
		log.Printf("[CTR] endGame failed for party %s: %v", spec.PartyID, err)
	}
}

func (l *Launcher) streamLogs(ctx context.Context, containerID, partyID string) {
	out, err := l.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true, Follow: true})
	if err != nil {
		log.Printf("[CTR] log stream failed for party %s: %v", partyID, err)
		return
	}
	defer out.Close()

	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		log.Printf("[CTR party=%s] %s", partyID, scanner.Text())
	}
}

func portMapping(internalPorts, externalPorts []int) (nat.PortSet, nat.PortMap) {
	exposed := make(nat.PortSet, len(internalPorts))
	bindings := make(nat.PortMap, len(internalPorts))
	for i, internalPort := range internalPorts {
		p, err := nat.NewPort("tcp", strconv.Itoa(internalPort))
		if err != nil {
			continue
		}
		exposed[p] = struct{}{}
		external := internalPort
		if i < len(externalPorts) {
			external = externalPorts[i]
		}
		bindings[p] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", external)}}
	}
	return exposed, bindings
}
